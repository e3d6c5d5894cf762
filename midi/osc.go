package midi

import (
	"github.com/hypebeast/go-osc/osc"
)

// OSCSink sends "/note/on ch key vel bend" and "/note/off ch key" messages
// to an OSC server (SuperCollider, Pure Data and friends)
type OSCSink struct {
	client *osc.Client
	Prefix string
}

// NewOSCSink returns a sink sending UDP to host:port
func NewOSCSink(host string, port int) *OSCSink {
	return &OSCSink{client: osc.NewClient(host, port), Prefix: "/note"}
}

// Message renders a command as an OSC message
func (o *OSCSink) Message(c Command) *osc.Message {
	switch c.Kind {
	case NoteOn:
		msg := osc.NewMessage(o.Prefix + "/on")
		msg.Append(int32(c.Channel), int32(c.Repr.Key), int32(c.Velocity), int32(c.Repr.Bend))
		return msg
	case NoteOff:
		msg := osc.NewMessage(o.Prefix + "/off")
		msg.Append(int32(c.Channel), int32(c.Repr.Key))
		return msg
	default:
		return osc.NewMessage(o.Prefix + "/alloff")
	}
}

func (o *OSCSink) Send(c Command) error {
	return o.client.Send(o.Message(c))
}
