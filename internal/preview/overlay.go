package preview

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/ebowwa/iphone-photobooth/internal/frame"
)

var (
	overlayRed   = color.RGBA{R: 255, A: 255}
	overlayGreen = color.RGBA{G: 255, A: 255}
	overlayWhite = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Status is the live pipeline state stamped onto each preview frame.
type Status struct {
	Recording bool
	Audio     bool
	Config    frame.StreamConfig
}

// Renderer draws the status overlay onto preview frames. The source frame
// bytes are never touched; each render works on a fresh RGBA copy so the
// record path always receives clean frames.
type Renderer struct {
	face font.Face
}

// NewRenderer creates a renderer with the built-in bitmap face.
func NewRenderer() *Renderer {
	return &Renderer{face: basicfont.Face7x13}
}

// Render converts the frame to RGBA and stamps the overlay: a recording
// indicator, the frame timestamp, and the negotiated stream configuration.
func (r *Renderer) Render(f frame.Frame, st Status) *image.RGBA {
	img := toRGBA(f)

	if st.Recording {
		fillCircle(img, 30, 30, 10, overlayRed)
		r.drawText(img, 50, 35, "REC", overlayRed)
		if st.Audio {
			r.drawText(img, 120, 35, "Audio: ON", overlayGreen)
		}
	}

	r.drawText(img, 10, f.Height-20, f.Timestamp.Format("2006-01-02 15:04:05"), overlayWhite)
	r.drawText(img, f.Width-200, 30, st.Config.String(), overlayWhite)

	return img
}

func (r *Renderer) drawText(img *image.RGBA, x, y int, s string, c color.RGBA) {
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: r.face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// toRGBA expands the packed RGB frame into an RGBA image.
func toRGBA(f frame.Frame) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		src := y * f.Width * 3
		dst := y * img.Stride
		for x := 0; x < f.Width; x++ {
			img.Pix[dst+0] = f.Data[src+0]
			img.Pix[dst+1] = f.Data[src+1]
			img.Pix[dst+2] = f.Data[src+2]
			img.Pix[dst+3] = 255
			src += 3
			dst += 4
		}
	}
	return img
}

func fillCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				img.SetRGBA(cx+dx, cy+dy, c)
			}
		}
	}
}

// screenshotName builds the timestamped screenshot file name.
func screenshotName(t time.Time) string {
	return fmt.Sprintf("screenshot_%s.jpg", t.Format("20060102_150405"))
}
