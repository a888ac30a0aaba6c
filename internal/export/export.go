// Package export renders a conversation to a paginated PDF document
// and a plain-text transcript.
//
// Pagination is a pure function over block heights, kept separate from
// PDF drawing so the placement rules are testable without parsing PDF
// output.
package export

import (
	"github.com/surgutroads/roadwatch/internal/artifact"
	"github.com/surgutroads/roadwatch/internal/session"
)

// BlockKind discriminates rendered block content.
type BlockKind int

const (
	BlockText BlockKind = iota
	BlockImage
)

// Block is one rendered unit before pagination: a text run or an
// embedded chart, attributed to a role. Label is set only on the first
// block of a message.
type Block struct {
	Kind  BlockKind
	Role  session.Role
	Label string
	Text  string
	Ref   string
}

// Role labels as shown in exported documents.
const (
	labelUser      = "Вы"
	labelAssistant = "Ассистент"
)

func roleLabel(r session.Role) string {
	if r == session.RoleUser {
		return labelUser
	}
	return labelAssistant
}

// buildBlocks splits each message into text and image segments on the
// chart-reference pattern. Tool invocation notices do not render as
// blocks. Every segment becomes exactly one block, in original order.
func buildBlocks(messages []session.Message) []Block {
	var blocks []Block
	for _, m := range messages {
		label := roleLabel(m.Role)
		first := true
		for _, seg := range artifact.Split(m.Text()) {
			b := Block{Role: m.Role, Text: seg.Text, Ref: seg.Ref}
			if seg.Ref != "" {
				b.Kind = BlockImage
			}
			if first {
				b.Label = label
				first = false
			}
			blocks = append(blocks, b)
		}
	}
	return blocks
}

// Strip is one placed slice of a block. Offset is the vertical
// position within the block where this strip begins; a block that fits
// whole produces a single strip with Offset 0.
type Strip struct {
	Block  int
	Page   int
	Y      float64
	Offset float64
	Height float64
}

// Paginate places blocks of the given heights onto pages of fixed
// height, top to bottom:
//
//   - a block that fits in the remaining page space is placed there;
//   - a block that fits on a fresh page but not in the remainder moves
//     to a new page;
//   - a block taller than one page is sliced into consecutive strips,
//     the first filling the remaining space, the rest page-sized until
//     the block is exhausted.
//
// No block content is ever dropped: the strip heights of each block sum
// to its full height.
func Paginate(heights []float64, pageHeight float64) []Strip {
	var strips []Strip
	page := 0
	y := 0.0

	for i, h := range heights {
		remaining := pageHeight - y

		if h <= remaining {
			strips = append(strips, Strip{Block: i, Page: page, Y: y, Height: h})
			y += h
			continue
		}

		if h <= pageHeight {
			page++
			strips = append(strips, Strip{Block: i, Page: page, Y: 0, Height: h})
			y = h
			continue
		}

		// Taller than a page: slice.
		offset := 0.0
		rest := h
		for rest > 0 {
			if remaining <= 0 {
				page++
				y = 0
				remaining = pageHeight
			}
			stripH := min(rest, remaining)
			strips = append(strips, Strip{Block: i, Page: page, Y: y, Offset: offset, Height: stripH})
			offset += stripH
			rest -= stripH
			y += stripH
			remaining -= stripH
		}
	}
	return strips
}
