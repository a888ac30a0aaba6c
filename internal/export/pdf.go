package export

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"

	_ "image/jpeg"

	"github.com/go-pdf/fpdf"

	"github.com/surgutroads/roadwatch/internal/artifact"
	"github.com/surgutroads/roadwatch/internal/log"
	"github.com/surgutroads/roadwatch/internal/session"
)

// Page geometry in millimeters (A4 portrait).
const (
	pageMargin = 15.0
	lineHeight = 5.5
	labelGap   = 7.0
	fontSize   = 11.0
)

// Exporter renders sessions to documents. Images referenced in
// assistant text are resolved through the artifact client; a failed
// fetch skips that segment rather than aborting the export.
type Exporter struct {
	artifacts *artifact.Client
	logger    log.Logger
}

// New creates an exporter. artifacts may be nil, in which case image
// segments are skipped entirely.
func New(artifacts *artifact.Client, logger log.Logger) *Exporter {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Exporter{artifacts: artifacts, logger: logger.With("component", "export")}
}

// RenderPDF produces the paginated PDF for a session.
func (e *Exporter) RenderPDF(ctx context.Context, sess *session.Session) ([]byte, error) {
	blocks := buildBlocks(sess.Messages)
	blocks, images := e.resolveImages(ctx, blocks)

	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetMargins(pageMargin, pageMargin, pageMargin)
	doc.SetAutoPageBreak(false, 0)
	doc.SetFont("Helvetica", "", fontSize)
	tr := doc.UnicodeTranslatorFromDescriptor("cp1251")

	pageW, pageH := doc.GetPageSize()
	contentW := pageW - 2*pageMargin
	contentH := pageH - 2*pageMargin

	// Measure every block, then lay out.
	lines := make([][]string, len(blocks))
	heights := make([]float64, len(blocks))
	for i, b := range blocks {
		switch b.Kind {
		case BlockText:
			lines[i] = doc.SplitText(tr(b.Text), contentW)
			heights[i] = float64(len(lines[i])) * lineHeight
		case BlockImage:
			img := images[i]
			bounds := img.Bounds()
			heights[i] = contentW * float64(bounds.Dy()) / float64(bounds.Dx())
		}
		if b.Label != "" {
			heights[i] += labelGap
		}
	}

	strips := Paginate(heights, contentH)

	doc.AddPage()
	page := 0
	for _, s := range strips {
		for page < s.Page {
			doc.AddPage()
			page++
		}
		b := blocks[s.Block]
		switch b.Kind {
		case BlockText:
			e.drawTextStrip(doc, tr, b, lines[s.Block], s)
		case BlockImage:
			if err := e.drawImageStrip(doc, tr, b, images[s.Block], contentW, s); err != nil {
				e.logger.Warn("image render failed", "ref", b.Ref, "error", err)
			}
		}
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// resolveImages fetches every referenced chart. Blocks whose fetch or
// decode fails are dropped; the remaining blocks keep their order.
func (e *Exporter) resolveImages(ctx context.Context, blocks []Block) ([]Block, map[int]image.Image) {
	kept := make([]Block, 0, len(blocks))
	images := make(map[int]image.Image)
	for _, b := range blocks {
		if b.Kind != BlockImage {
			kept = append(kept, b)
			continue
		}
		if e.artifacts == nil {
			continue
		}
		data, err := e.artifacts.Fetch(ctx, b.Ref)
		if err != nil {
			e.logger.Warn("artifact fetch failed, skipping segment", "ref", b.Ref, "error", err)
			continue
		}
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			e.logger.Warn("artifact decode failed, skipping segment", "ref", b.Ref, "error", err)
			continue
		}
		images[len(kept)] = img
		kept = append(kept, b)
	}
	return kept, images
}

// drawTextStrip renders the slice of lines covered by the strip.
func (e *Exporter) drawTextStrip(doc *fpdf.Fpdf, tr func(string) string, b Block, blockLines []string, s Strip) {
	y := pageMargin + s.Y
	offset := s.Offset
	end := s.Offset + s.Height

	if b.Label != "" {
		if offset < labelGap {
			doc.SetXY(pageMargin, y)
			doc.SetFontStyle("B")
			doc.Cell(0, lineHeight, tr(b.Label+":"))
			doc.SetFontStyle("")
			y += labelGap - offset
		}
		offset -= labelGap
		end -= labelGap
	}

	for i, line := range blockLines {
		top := float64(i) * lineHeight
		if top < offset {
			continue
		}
		if top >= end {
			break
		}
		doc.SetXY(pageMargin, y)
		doc.Cell(0, lineHeight, line)
		y += lineHeight
	}
}

// drawImageStrip places the part of the chart covered by the strip,
// cropping the source when the block spans pages.
func (e *Exporter) drawImageStrip(doc *fpdf.Fpdf, tr func(string) string, b Block, img image.Image, contentW float64, s Strip) error {
	y := pageMargin + s.Y
	offset := s.Offset
	height := s.Height

	if b.Label != "" {
		if offset < labelGap {
			doc.SetXY(pageMargin, y)
			doc.SetFontStyle("B")
			doc.Cell(0, lineHeight, tr(b.Label+":"))
			doc.SetFontStyle("")
			shift := labelGap - offset
			y += shift
			height -= shift
			offset = 0
		} else {
			offset -= labelGap
		}
	}
	if height <= 0 {
		return nil
	}

	bounds := img.Bounds()
	scale := contentW / float64(bounds.Dx()) // mm per pixel
	fullH := float64(bounds.Dy()) * scale

	part := img
	if offset > 0 || height < fullH-0.01 {
		y0 := bounds.Min.Y + int(offset/scale)
		y1 := bounds.Min.Y + int((offset+height)/scale)
		if y1 > bounds.Max.Y {
			y1 = bounds.Max.Y
		}
		if y1 <= y0 {
			return nil
		}
		part = cropImage(img, image.Rect(bounds.Min.X, y0, bounds.Max.X, y1))
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, part); err != nil {
		return fmt.Errorf("encode strip: %w", err)
	}

	name := fmt.Sprintf("%s#%0.1f", strings.TrimPrefix(b.Ref, "/"), s.Offset)
	doc.RegisterImageOptionsReader(name, fpdf.ImageOptions{ImageType: "PNG"}, &buf)
	doc.ImageOptions(name, pageMargin, y, contentW, height, false, fpdf.ImageOptions{ImageType: "PNG"}, 0, "")
	return nil
}

type subImager interface {
	SubImage(image.Rectangle) image.Image
}

func cropImage(img image.Image, r image.Rectangle) image.Image {
	if si, ok := img.(subImager); ok {
		return si.SubImage(r)
	}
	out := image.NewNRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			out.Set(x, y, img.At(r.Min.X+x, r.Min.Y+y))
		}
	}
	return out
}
