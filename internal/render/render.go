// Package render puts received frames on screen through an X11 window.
package render

import (
	"fmt"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/rs/zerolog"

	"vdstream/internal/grid"
	"vdstream/internal/logger"
)

// Renderer displays frames. Implementations must tolerate Draw being called
// with a geometry different from the last EnsureSize; they resize themselves.
type Renderer interface {
	EnsureSize(g grid.Geometry) error
	Draw(frame *grid.Grid) error
	Close() error
}

// Window renders frames into an X11 window sized to the incoming stream.
type Window struct {
	conn   *xgb.Conn
	screen *xproto.ScreenInfo
	win    xproto.Window
	gc     xproto.Gcontext
	log    *zerolog.Logger

	mu     sync.Mutex
	geom   grid.Geometry
	closed bool
}

// NewWindow connects to the X server and creates a mapped window with the
// given title and initial geometry.
func NewWindow(title string, geom grid.Geometry) (*Window, error) {
	if !geom.Valid() {
		return nil, fmt.Errorf("invalid window geometry %s", geom)
	}

	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	w := &Window{
		conn:   conn,
		screen: screen,
		geom:   geom,
		log:    logger.WithComponent("render"),
	}

	winID, err := xproto.NewWindowId(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to allocate window ID: %w", err)
	}
	w.win = winID

	mask := uint32(xproto.CwBackPixel | xproto.CwEventMask)
	values := []uint32{
		0x000000,
		xproto.EventMaskExposure | xproto.EventMaskStructureNotify,
	}
	err = xproto.CreateWindowChecked(
		conn,
		screen.RootDepth,
		w.win,
		screen.Root,
		0, 0,
		uint16(geom.Width), uint16(geom.Height),
		0,
		xproto.WindowClassInputOutput,
		screen.RootVisual,
		mask,
		values,
	).Check()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create window: %w", err)
	}

	if err := w.setTitle(title); err != nil {
		w.log.Warn().Err(err).Msg("Failed to set window title")
	}
	if err := w.setClass("vdstream", "Vdstream"); err != nil {
		w.log.Warn().Err(err).Msg("Failed to set window class")
	}

	if err := xproto.MapWindowChecked(conn, w.win).Check(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to map window: %w", err)
	}
	conn.Sync()

	gcID, err := xproto.NewGcontextId(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to allocate graphics context ID: %w", err)
	}
	w.gc = gcID
	err = xproto.CreateGCChecked(conn, w.gc, xproto.Drawable(w.win), 0, nil).Check()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create graphics context: %w", err)
	}
	conn.Sync()

	w.log.Info().
		Int("width", geom.Width).
		Int("height", geom.Height).
		Uint32("window_id", uint32(w.win)).
		Msg("Viewer window created")
	return w, nil
}

// EnsureSize resizes the window when the stream geometry changes. A no-op
// when the geometry already matches.
func (w *Window) EnsureSize(g grid.Geometry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("window closed")
	}
	if !g.Valid() {
		return fmt.Errorf("invalid window geometry %s", g)
	}
	if g == w.geom {
		return nil
	}

	err := xproto.ConfigureWindowChecked(
		w.conn,
		w.win,
		xproto.ConfigWindowWidth|xproto.ConfigWindowHeight,
		[]uint32{uint32(g.Width), uint32(g.Height)},
	).Check()
	if err != nil {
		return fmt.Errorf("failed to resize window to %s: %w", g, err)
	}
	w.conn.Sync()

	w.log.Info().
		Stringer("from", w.geom).
		Stringer("to", g).
		Msg("Viewer window resized")
	w.geom = g
	return nil
}

// Draw renders one RGB frame into the window, resizing first if needed.
func (w *Window) Draw(frame *grid.Grid) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	if frame.Channels != 3 {
		return fmt.Errorf("cannot render %d-channel frame", frame.Channels)
	}
	if err := w.EnsureSize(frame.Geometry()); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("window closed")
	}
	return w.putImage(frame)
}

// putImage converts the frame to the server's ZPixmap layout and uploads it.
func (w *Window) putImage(frame *grid.Grid) error {
	depth := w.screen.RootDepth
	setup := xproto.Setup(w.conn)

	var bitsPerPixel, scanlinePad uint8
	for _, format := range setup.PixmapFormats {
		if format.Depth == depth {
			bitsPerPixel = format.BitsPerPixel
			scanlinePad = format.ScanlinePad
			break
		}
	}
	if bitsPerPixel == 0 {
		return fmt.Errorf("no pixmap format for depth %d", depth)
	}

	bytesPerPixel := int(bitsPerPixel) / 8
	if bytesPerPixel != 3 && bytesPerPixel != 4 {
		return fmt.Errorf("unsupported bits per pixel %d", bitsPerPixel)
	}

	// Scanlines are padded to scanlinePad bits, usually 32.
	unpadded := frame.Width * bytesPerPixel
	padBytes := int(scanlinePad) / 8
	stride := ((unpadded + padBytes - 1) / padBytes) * padBytes

	data := make([]byte, stride*frame.Height)
	for y := 0; y < frame.Height; y++ {
		srcRow := y * frame.Width * 3
		dstRow := y * stride
		for x := 0; x < frame.Width; x++ {
			src := srcRow + x*3
			dst := dstRow + x*bytesPerPixel
			// BGRx to match the server's 0xff/0xff00/0xff0000 masks.
			data[dst] = frame.Pix[src+2]
			data[dst+1] = frame.Pix[src+1]
			data[dst+2] = frame.Pix[src]
		}
	}

	err := xproto.PutImageChecked(
		w.conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(w.win),
		w.gc,
		uint16(frame.Width),
		uint16(frame.Height),
		0, 0,
		0,
		depth,
		data,
	).Check()
	if err != nil {
		return fmt.Errorf("failed to put image: %w", err)
	}
	w.conn.Sync()
	return nil
}

// Close destroys the window and drops the X connection.
func (w *Window) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.gc != 0 {
		xproto.FreeGC(w.conn, w.gc)
	}
	if w.win != 0 {
		xproto.DestroyWindow(w.conn, w.win)
		w.conn.Sync()
	}
	w.conn.Close()
	w.log.Info().Msg("Viewer window closed")
	return nil
}

func (w *Window) setTitle(title string) error {
	titleAtom, err := w.atom("_NET_WM_NAME")
	if err != nil {
		return err
	}
	utf8Atom, err := w.atom("UTF8_STRING")
	if err != nil {
		return err
	}
	return xproto.ChangePropertyChecked(
		w.conn,
		xproto.PropModeReplace,
		w.win,
		titleAtom,
		utf8Atom,
		8,
		uint32(len(title)),
		[]byte(title),
	).Check()
}

func (w *Window) setClass(instance, class string) error {
	classAtom, err := w.atom("WM_CLASS")
	if err != nil {
		return err
	}
	classStr := instance + "\x00" + class + "\x00"
	return xproto.ChangePropertyChecked(
		w.conn,
		xproto.PropModeReplace,
		w.win,
		classAtom,
		xproto.AtomString,
		8,
		uint32(len(classStr)),
		[]byte(classStr),
	).Check()
}

func (w *Window) atom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(w.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	return reply.Atom, nil
}
