package control

import "github.com/pion/webrtc/v4"

// Label is the name of the control data channel.
const Label = "control"

// ChannelInit returns the data channel options for the commands:
// ordered with unlimited retransmits, a lost click is never fine.
func ChannelInit() *webrtc.DataChannelInit {
	ordered := true
	return &webrtc.DataChannelInit{Ordered: &ordered}
}
