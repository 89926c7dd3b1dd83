package types

import "fmt"

// PageRecord is the extraction pipeline output for one page: plain text
// plus the raw media blocks found on it, in page order.
type PageRecord struct {
	PageNum int
	Text    TextBlock
	Images  []ImageBlock
	Tables  []TableBlock
}

// TextBlock is the plain text of a page.
type TextBlock struct {
	Page int
	Text string
}

// ImageBlock is a raw image blob with its source position. PDF parsers
// hand back loosely shaped results, so every block is validated at the
// pipeline boundary before it enters the data model.
type ImageBlock struct {
	Page   int
	Data   []byte
	Format string
	Bounds *Bounds
}

// TableBlock is a detected table serialized as structured rows plus CSV
// and HTML renderings.
type TableBlock struct {
	Page int
	Rows [][]string
	CSV  string
	HTML string
}

func (b ImageBlock) Validate() error {
	if b.Page <= 0 {
		return fmt.Errorf("image block: invalid page %d", b.Page)
	}
	if len(b.Data) == 0 {
		return fmt.Errorf("image block on page %d: empty payload", b.Page)
	}
	if b.Format == "" {
		return fmt.Errorf("image block on page %d: missing format", b.Page)
	}
	return nil
}

func (b TableBlock) Validate() error {
	if b.Page <= 0 {
		return fmt.Errorf("table block: invalid page %d", b.Page)
	}
	if len(b.Rows) == 0 {
		return fmt.Errorf("table block on page %d: no rows", b.Page)
	}
	width := len(b.Rows[0])
	if width == 0 {
		return fmt.Errorf("table block on page %d: empty header row", b.Page)
	}
	return nil
}
