package control

import (
	"strconv"

	"rtb-bidder/internal/campaign"
)

const (
	CmdAddCampaign = iota
	CmdDeleteCampaign
	CmdStopBidder
	CmdStartBidder
	CmdPercentage
	CmdEcho
)

var cmdNames = map[int]string{
	CmdAddCampaign:    "add",
	CmdDeleteCampaign: "delete",
	CmdStopBidder:     "stop",
	CmdStartBidder:    "start",
	CmdPercentage:     "percentage",
	CmdEcho:           "echo",
}

func cmdName(cmd int) string {
	if n, ok := cmdNames[cmd]; ok {
		return n
	}
	return "unknown-" + strconv.Itoa(cmd)
}

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Command is both the inbound control message and, with Status and Msg
// filled in, its acknowledgement.
type Command struct {
	Cmd        int            `json:"cmd"`
	ID         string         `json:"id,omitempty"`
	To         string         `json:"to,omitempty"`
	From       string         `json:"from,omitempty"`
	Owner      string         `json:"owner,omitempty"`
	Target     string         `json:"target,omitempty"`
	Campaign   *campaign.Spec `json:"campaign,omitempty"`
	Percentage *int           `json:"percentage,omitempty"`
	Status     string         `json:"status,omitempty"`
	Msg        string         `json:"msg,omitempty"`
}

// Echo is the status report answered to an echo command.
type Echo struct {
	Command
	Instance  string   `json:"instance"`
	Serving   bool     `json:"serving"`
	Throttle  int      `json:"throttle"`
	Campaigns []string `json:"campaigns"`
}
