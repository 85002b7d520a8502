package terminal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mum4k/termdash"
	"github.com/mum4k/termdash/cell"
	"github.com/mum4k/termdash/container"
	"github.com/mum4k/termdash/container/grid"
	"github.com/mum4k/termdash/keyboard"
	"github.com/mum4k/termdash/linestyle"
	"github.com/mum4k/termdash/terminal/tcell"
	"github.com/mum4k/termdash/terminal/terminalapi"
	"github.com/mum4k/termdash/widgets/text"
	"github.com/mum4k/termdash/widgets/textinput"
	"github.com/spooky-finn/go-orderbook-live/domain"
	"github.com/spooky-finn/go-orderbook-live/infrastructure/logger"
	"github.com/spooky-finn/go-orderbook-live/presentation"
	"github.com/spooky-finn/go-orderbook-live/usecase"
)

const redrawInterval = 100 * time.Millisecond

// Controller is what the dashboard needs from the subscription controller.
type Controller interface {
	SetPair(ctx context.Context, pair string) error
	Status() usecase.Status
}

type Dashboard struct {
	controller Controller
	storage    *domain.OrderBookStorage
	log        *logger.Entry

	bestBid *text.Text
	bestAsk *text.Text
	spread  *text.Text
	bids    *text.Text
	asks    *text.Text
	status  *text.Text
	input   *textinput.TextInput

	mu        sync.Mutex
	lastError error
}

func NewDashboard(controller Controller, storage *domain.OrderBookStorage) *Dashboard {
	return &Dashboard{
		controller: controller,
		storage:    storage,
		log:        logger.GetLogger().WithComponent("terminal"),
	}
}

func (d *Dashboard) InitWidgets(ctx context.Context) error {
	widgets := []**text.Text{&d.bestBid, &d.bestAsk, &d.spread, &d.bids, &d.asks, &d.status}
	for _, w := range widgets {
		widget, err := text.New()
		if err != nil {
			return fmt.Errorf("failed to create text widget: %v", err)
		}
		*w = widget
	}

	input, err := textinput.New(
		textinput.Label("Pair: ", cell.FgColor(cell.ColorNumber(33))),
		textinput.PlaceHolder("e.g. DOGEUSDT, Enter to switch"),
		textinput.MaxWidthCells(24),
		textinput.ClearOnSubmit(),
		textinput.OnSubmit(func(data string) error {
			go d.switchPair(ctx, data)
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create pair input: %v", err)
	}
	d.input = input

	return nil
}

func (d *Dashboard) switchPair(ctx context.Context, pair string) {
	err := d.controller.SetPair(ctx, pair)
	if err != nil {
		d.log.WithError(err).WithFields(logger.Fields{"pair": pair}).Warn("pair switch failed")
	}

	d.mu.Lock()
	d.lastError = err
	d.mu.Unlock()
	d.renderStatus()
}

func (d *Dashboard) Layout() ([]container.Option, error) {
	builder := grid.New()
	builder.Add(
		grid.RowHeightPerc(15,
			grid.ColWidthPerc(40,
				grid.Widget(d.bestBid,
					container.Border(linestyle.Light),
					container.BorderTitle(" Best Bid "),
				),
			),
			grid.ColWidthPerc(40,
				grid.Widget(d.bestAsk,
					container.Border(linestyle.Light),
					container.BorderTitle(" Best Ask "),
				),
			),
			grid.ColWidthPerc(20,
				grid.Widget(d.spread,
					container.Border(linestyle.Light),
					container.BorderTitle(" Spread "),
				),
			),
		),
		grid.RowHeightPerc(65,
			grid.ColWidthPerc(50,
				grid.Widget(d.bids,
					container.Border(linestyle.Light),
					container.BorderTitle(" Bids "),
				),
			),
			grid.ColWidthPerc(50,
				grid.Widget(d.asks,
					container.Border(linestyle.Light),
					container.BorderTitle(" Asks "),
				),
			),
		),
		grid.RowHeightPerc(10,
			grid.Widget(d.status,
				container.Border(linestyle.Light),
				container.BorderTitle(" Status "),
			),
		),
		grid.RowHeightPerc(10,
			grid.Widget(d.input,
				container.Border(linestyle.Light),
				container.BorderTitle(" Esc to quit "),
			),
		),
	)

	return builder.Build()
}

func (d *Dashboard) render(snapshot domain.OrderBookSnapshot) {
	view := presentation.Render(d.controller.Status().Pair, snapshot)

	bid, ask := formatTopOfBook(view)
	d.bestBid.Reset()
	_ = d.bestBid.Write(bid, text.WriteCellOpts(cell.FgColor(cell.ColorGreen)))
	d.bestAsk.Reset()
	_ = d.bestAsk.Write(ask, text.WriteCellOpts(cell.FgColor(cell.ColorRed)))
	d.spread.Reset()
	_ = d.spread.Write(view.Spread)

	bids, asks := formatDepth(view.Depth)
	d.bids.Reset()
	_ = d.bids.Write(bids, text.WriteCellOpts(cell.FgColor(cell.ColorGreen)))
	d.asks.Reset()
	_ = d.asks.Write(asks, text.WriteCellOpts(cell.FgColor(cell.ColorRed)))
}

func (d *Dashboard) renderStatus() {
	line := formatStatus(d.controller.Status())

	d.mu.Lock()
	if d.lastError != nil {
		line += fmt.Sprintf("  last input: %v", d.lastError)
	}
	d.mu.Unlock()

	d.status.Reset()
	_ = d.status.Write(line)
}

// listen redraws the book on every store change and the status line on
// every tick.
func (d *Dashboard) listen(ctx context.Context) {
	subscription := d.storage.Subscribe()
	defer subscription.Unsubscribe()

	ticker := time.NewTicker(redrawInterval)
	defer ticker.Stop()

	d.render(d.storage.Current())
	d.renderStatus()

	for {
		select {
		case <-ctx.Done():
			return
		case snapshot, ok := <-subscription.Stream:
			if !ok {
				return
			}
			d.render(snapshot)
		case <-ticker.C:
			d.renderStatus()
		}
	}
}

// Run takes over the terminal until ctx is done or the user quits.
func (d *Dashboard) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := d.InitWidgets(ctx); err != nil {
		return err
	}

	t, err := tcell.New(tcell.ColorMode(terminalapi.ColorMode256))
	if err != nil {
		return fmt.Errorf("failed to initialize terminal: %v", err)
	}
	defer t.Close()

	gridOpts, err := d.Layout()
	if err != nil {
		return fmt.Errorf("failed to build grid layout: %v", err)
	}

	c, err := container.New(t, gridOpts...)
	if err != nil {
		return fmt.Errorf("failed to create root container: %v", err)
	}

	go d.listen(ctx)

	quitter := func(k *terminalapi.Keyboard) {
		if k.Key == keyboard.KeyEsc || k.Key == keyboard.KeyCtrlC {
			cancel()
		}
	}

	return termdash.Run(ctx, t, c,
		termdash.KeyboardSubscriber(quitter),
		termdash.RedrawInterval(redrawInterval),
	)
}
