package offline

// Destination is the host object linked to a controller's output
type Destination interface {
	ChannelCount() int
	MaxChannelCount() int
}

// DestinationFactory builds the destination object for a new controller.
// Errors abort construction.
type DestinationFactory func(c *Controller) (Destination, error)

// AudioDestination is the default destination
type AudioDestination struct {
	channelCount int
}

// ChannelCount returns the number of channels rendered to the destination
func (d *AudioDestination) ChannelCount() int {
	return d.channelCount
}

// MaxChannelCount equals ChannelCount for an offline destination
func (d *AudioDestination) MaxChannelCount() int {
	return d.channelCount
}

func defaultDestination(c *Controller) (Destination, error) {
	return &AudioDestination{channelCount: c.NumberOfChannels()}, nil
}
