package guildpost

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/enescakir/emoji"
	"github.com/kataras/tablewriter"
	"github.com/lensesio/tableprinter"
)

// Inspector renders operator-facing tables for a peer: the group roster
// and the recent audit trail. Pure display, no state.
type Inspector struct {
	peer   *LocalPeer
	online OnlineStatus
	out    io.Writer
}

func NewInspector(peer *LocalPeer, online OnlineStatus, out io.Writer) *Inspector {
	return &Inspector{peer: peer, online: online, out: out}
}

type rosterRow struct {
	Name   string `header:"name"`
	Role   string `header:"role"`
	Online string `header:"online"`
	Joined string `header:"joined"`
}

type auditRow struct {
	When    string `header:"when"`
	User    string `header:"user"`
	Event   string `header:"event"`
	Outcome string `header:"outcome"`
	Detail  string `header:"detail"`
}

// PrintRoster renders the group's members ranked highest first, names
// breaking ties, the same order the sender election uses.
func (in *Inspector) PrintRoster(groupID string) error {
	g, err := in.peer.Groups.GetGroup(groupID)
	if err != nil {
		return err
	}

	members := append([]*Member(nil), g.Members...)
	sort.Slice(members, func(i, j int) bool {
		if members[i].Role != members[j].Role {
			return members[i].Role > members[j].Role
		}
		return members[i].Name < members[j].Name
	})

	rows := make([]rosterRow, 0, len(members))
	for _, m := range members {
		status := emoji.CrossMark.String()
		if in.online != nil && in.online.IsOnline(m.Name) {
			status = emoji.CheckMarkButton.String()
		}
		rows = append(rows, rosterRow{
			Name:   m.Name,
			Role:   m.Role.String(),
			Online: status,
			Joined: time.Unix(m.JoinedAt, 0).Format("2006-01-02"),
		})
	}

	fmt.Fprintf(in.out, "%v %s: %d member(s)\n", emoji.Castle, g.Name, len(rows))
	printer := newTablePrinter(in.out)
	printer.Print(rows)
	return nil
}

// PrintAudit renders the newest n audit entries, oldest first.
func (in *Inspector) PrintAudit(n int) {
	entries := in.peer.Audit.Recent(n)

	rows := make([]auditRow, 0, len(entries))
	for _, e := range entries {
		outcome := emoji.CheckMarkButton.String()
		detail := e.Context
		if !e.Success {
			outcome = emoji.CrossMark.String()
			detail = e.FailureReason
		}
		rows = append(rows, auditRow{
			When:    time.Unix(0, e.Timestamp).Format("15:04:05"),
			User:    e.User,
			Event:   e.EventType,
			Outcome: outcome,
			Detail:  detail,
		})
	}

	fmt.Fprintf(in.out, "%v audit trail: last %d attempt(s)\n", emoji.Scroll, len(rows))
	printer := newTablePrinter(in.out)
	printer.Print(rows)
}

func newTablePrinter(out io.Writer) *tableprinter.Printer {
	printer := tableprinter.New(out)
	printer.BorderTop, printer.BorderBottom, printer.BorderLeft, printer.BorderRight = true, true, true, true
	printer.CenterSeparator = "│"
	printer.ColumnSeparator = "│"
	printer.RowSeparator = "─"
	printer.HeaderBgColor = tablewriter.BgBlackColor
	printer.HeaderFgColor = tablewriter.FgGreenColor
	return printer
}
