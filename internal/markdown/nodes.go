package markdown

// Block is a top-level element produced by the block lexer.
type Block interface {
	block()
}

// Inline is a span inside a block.
type Inline interface {
	inline()
}

// Heading is an ATX heading (# .. ######).
type Heading struct {
	Level int
	Text  []Inline
}

// Quote is a single blockquote line. Quotes are not aggregated.
type Quote struct {
	Text []Inline
}

// List is a maximal run of ordered or unordered list lines.
type List struct {
	Ordered bool
	Items   [][]Inline
}

// CodeBlock is a fenced block. Code holds the raw, unescaped body.
type CodeBlock struct {
	Lang string
	Code string
}

// Paragraph holds consecutive plain lines between blank lines.
type Paragraph struct {
	Lines [][]Inline
}

func (Heading) block()   {}
func (Quote) block()     {}
func (List) block()      {}
func (CodeBlock) block() {}
func (Paragraph) block() {}

// Text is literal text; it is escaped on output.
type Text string

// Code is an inline code span.
type Code string

// Strong is a **bold** span.
type Strong []Inline

// Emphasis is an *italic* or _italic_ span.
type Emphasis []Inline

// Link is an anchor with a vetted href.
type Link struct {
	Href  string
	Label []Inline
}

func (Text) inline()     {}
func (Code) inline()     {}
func (Strong) inline()   {}
func (Emphasis) inline() {}
func (Link) inline()     {}
