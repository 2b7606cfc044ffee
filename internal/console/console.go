// Package console renders received relay messages for a human watching the terminal.
package console

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/rickgao/relay-sender/internal/model"
)

// Printer writes one line per received message. It implements connection.ReceiveHandler.
type Printer struct {
	mu     sync.Mutex
	w      io.Writer
	stamp  *color.Color
	sender *color.Color
	body   *color.Color
	now    func() time.Time
}

// NewPrinter creates a Printer writing to w (os.Stdout if nil).
// When colorize is false the output is plain text.
func NewPrinter(w io.Writer, colorize bool) *Printer {
	if w == nil {
		w = os.Stdout
	}
	p := &Printer{
		w:      w,
		stamp:  color.New(color.FgHiBlack),
		sender: color.New(color.FgCyan, color.Bold),
		body:   color.New(color.FgYellow),
		now:    time.Now,
	}
	if colorize {
		p.stamp.EnableColor()
		p.sender.EnableColor()
		p.body.EnableColor()
	} else {
		p.stamp.DisableColor()
		p.sender.DisableColor()
		p.body.DisableColor()
	}
	return p
}

// HandleReceive prints "HH:MM:SS [sender] content".
func (p *Printer) HandleReceive(msg model.IncomingMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stamp.Fprint(p.w, p.now().Format(time.TimeOnly))
	io.WriteString(p.w, " ")
	p.sender.Fprintf(p.w, "[%s]", msg.Sender)
	io.WriteString(p.w, " ")
	p.body.Fprintln(p.w, msg.Content)
}
