// Package console renders prices, bars and status lines for terminal
// output. Colour is used only when the writer is a terminal.
package console

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"quant/internal/domain"
)

// Renderer writes styled lines to one writer. It is safe for concurrent use.
type Renderer struct {
	mu sync.Mutex
	w  io.Writer

	gain     lipgloss.Style
	loss     lipgloss.Style
	plain    lipgloss.Style
	announce lipgloss.Style
	warn     lipgloss.Style
	fail     lipgloss.Style
}

// New creates a renderer for w. The colour profile is detected from w.
func New(w io.Writer) *Renderer {
	r := lipgloss.NewRenderer(w)
	return &Renderer{
		w:        w,
		gain:     r.NewStyle().Foreground(lipgloss.Color("10")),
		loss:     r.NewStyle().Foreground(lipgloss.Color("9")),
		plain:    r.NewStyle(),
		announce: r.NewStyle().Foreground(lipgloss.Color("12")),
		warn:     r.NewStyle().Foreground(lipgloss.Color("11")),
		fail:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
	}
}

// Value formats v, red when below cmp and green when above.
func (r *Renderer) Value(v, cmp decimal.Decimal) string {
	return r.value(v, cmp, false)
}

func (r *Renderer) value(v, cmp decimal.Decimal, bold bool) string {
	style := r.plain
	switch v.Cmp(cmp) {
	case -1:
		style = r.loss
	case 1:
		style = r.gain
	}
	return style.Bold(bold).Render(FormatNumber(v))
}

// Bar renders one bar as
//
//	2006-01-02 15:04:05 SYM REF O..-H..-L..-C.. VOLUME
//
// Close is compared with prevClose, or with the open when prevClose is zero.
// The reference price is compared with prevRef when it is set.
func (r *Renderer) Bar(b domain.Bar, prevClose, prevRef decimal.Decimal) string {
	closeCmp := prevClose
	if closeCmp.IsZero() {
		closeCmp = b.Open
	}
	refCmp := prevRef
	if refCmp.IsZero() {
		refCmp = b.RefPrice
	}
	return fmt.Sprintf("%s %s %s O%s-H%s-L%s-C%s %4d",
		b.Time.Format(time.DateTime),
		b.Symbol,
		r.value(b.RefPrice, refCmp, true),
		r.Value(b.Open, b.Open),
		r.Value(b.High, b.Open),
		r.Value(b.Low, b.Open),
		r.Value(b.Close, closeCmp),
		b.Volume,
	)
}

// PnL renders a profit or loss amount coloured by its sign.
func (r *Renderer) PnL(v decimal.Decimal) string {
	style := r.plain
	switch v.Sign() {
	case -1:
		style = r.loss
	case 1:
		style = r.gain
	}
	return style.Render(FormatMoney(v))
}

// Println writes one line as is.
func (r *Renderer) Println(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, line)
}

func (r *Renderer) Announce(format string, args ...any) {
	r.Println(r.announce.Render(fmt.Sprintf(format, args...)))
}

func (r *Renderer) Warn(format string, args ...any) {
	r.Println(r.warn.Render(fmt.Sprintf(format, args...)))
}

func (r *Renderer) Error(format string, args ...any) {
	r.Println(r.fail.Render(fmt.Sprintf(format, args...)))
}
