package rcon

import (
	"bytes"
	"log/slog"
	"regexp"
)

// lineParser consumes complete lines from the front of a pending queue. A
// parser that recognizes nothing must return the queue unchanged so the next
// parser gets a look.
type lineParser interface {
	// parse consumes the lines it claims and returns the remainder.
	parse(lines [][]byte) [][]byte
	// active reports whether a multi-line block has started but its
	// terminator has not arrived yet.
	active() bool
}

// prefixParser matches a fixed literal prefix on a single line and hands the
// rest of the line to process. It keeps no state between lines.
type prefixParser struct {
	key     []byte
	process func(data []byte) error
	logger  *slog.Logger
}

func (p *prefixParser) parse(lines [][]byte) [][]byte {
	if len(lines) == 0 || !bytes.HasPrefix(lines[0], p.key) {
		return lines
	}
	if err := p.process(lines[0][len(p.key):]); err != nil && p.logger != nil {
		p.logger.Warn("error parsing line", "line", string(lines[0]), "error", err)
	}
	return lines[1:]
}

func (p *prefixParser) active() bool { return false }

// regexParser matches a whole line against a regular expression.
type regexParser struct {
	re      *regexp.Regexp
	process func(m [][]byte) error
	logger  *slog.Logger
}

func (p *regexParser) parse(lines [][]byte) [][]byte {
	if len(lines) == 0 {
		return lines
	}
	m := p.re.FindSubmatch(lines[0])
	if m == nil {
		return lines
	}
	if err := p.process(m); err != nil && p.logger != nil {
		p.logger.Warn("error parsing line", "line", string(lines[0]), "error", err)
	}
	return lines[1:]
}

func (p *regexParser) active() bool { return false }

// blockParser matches a start-of-block prefix, accumulates lines verbatim
// until a terminator-prefixed line arrives, then hands the whole block to
// process. Partial blocks survive across feeds until the terminator shows up
// or the session resets the parser.
type blockParser struct {
	key        []byte
	terminator []byte
	process    func(lines [][]byte) error
	logger     *slog.Logger

	started bool
	lines   [][]byte
}

func (p *blockParser) parse(lines [][]byte) [][]byte {
	if len(lines) == 0 {
		return lines
	}
	if !p.started {
		if !bytes.HasPrefix(lines[0], p.key) {
			return lines
		}
		p.started = true
		p.lines = append(p.lines, lines[0][len(p.key):])
		lines = lines[1:]
	}
	for len(lines) > 0 {
		line := lines[0]
		lines = lines[1:]
		if bytes.HasPrefix(line, p.terminator) {
			if err := p.process(p.lines); err != nil && p.logger != nil {
				p.logger.Warn("error parsing block", "key", string(p.key), "error", err)
			}
			p.reset()
			return lines
		}
		p.lines = append(p.lines, line)
	}
	return lines
}

func (p *blockParser) active() bool { return p.started }

func (p *blockParser) reset() {
	p.started = false
	p.lines = nil
}

// combined feeds an append-only byte buffer, splits off complete lines, and
// routes them through its registered parsers in declared order. At most one
// multi-line parser is active at a time; a newly fed buffer goes to it first.
type combined struct {
	parsers []lineParser
	buf     []byte
	current lineParser
	logger  *slog.Logger
}

func newCombined(logger *slog.Logger, parsers ...lineParser) *combined {
	return &combined{parsers: parsers, logger: logger}
}

// feed appends a chunk (one UDP datagram payload, typically) and processes
// every complete line now available. Bytes after the last newline stay
// buffered for the next feed, so record emission is invariant to how the
// input was chunked.
func (c *combined) feed(data []byte) {
	c.buf = append(c.buf, data...)
	idx := bytes.LastIndexByte(c.buf, '\n')
	if idx < 0 {
		return
	}
	lines := bytes.Split(c.buf[:idx], []byte{'\n'})
	c.buf = append(c.buf[:0:0], c.buf[idx+1:]...)
	c.dispatch(lines)
}

func (c *combined) dispatch(lines [][]byte) {
	if c.current != nil {
		lines = c.current.parse(lines)
		if !c.current.active() {
			c.current = nil
		}
	}
	for len(lines) > 0 {
		before := len(lines)
		for _, p := range c.parsers {
			lines = p.parse(lines)
			if p.active() {
				// Block started but terminator not seen; everything
				// pending was absorbed, wait for the next feed.
				c.current = p
				return
			}
			if len(lines) == 0 {
				return
			}
		}
		if len(lines) == before {
			// Nothing claimed this line; drop it to guarantee forward
			// progress. The wire format is unversioned, unknown records
			// are expected.
			if c.logger != nil && len(lines[0]) > 0 {
				c.logger.Debug("unparsed line", "line", string(lines[0]))
			}
			lines = lines[1:]
		}
	}
}

// reset discards buffered bytes and any half-received block. Called when the
// session tears down its sockets.
func (c *combined) reset() {
	c.buf = nil
	c.current = nil
	for _, p := range c.parsers {
		if bp, ok := p.(*blockParser); ok {
			bp.reset()
		}
	}
}
