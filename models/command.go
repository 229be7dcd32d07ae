package models

import "time"

// Command is an operator instruction written to the SQLite control table
// and polled by the scheduler.
type Command struct {
	ID        int64
	Command   string
	Params    string
	Processed bool
	CreatedAt time.Time
}

const (
	CmdScrapeNow  = "scrape_now"
	CmdPause      = "pause"
	CmdResume     = "resume"
	CmdRotateVPN  = "rotate_vpn"
	CmdResetStuck = "reset_stuck"
)
