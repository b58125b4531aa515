package sqldump

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Split reads a SQL payload and returns its statements without the
// terminating semicolons. Semicolons inside quoted strings, identifiers,
// comments and trigger bodies do not end a statement. Comments are dropped.
// The payload is scanned byte by byte so that text values reach the
// database unchanged, valid UTF-8 or not.
func Split(r io.Reader) ([]string, error) {
	br := bufio.NewReader(r)
	s := &splitter{}

	for {
		c, err := br.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		if s.quote != 0 {
			s.cur.WriteByte(c)
			if c == s.quote {
				// A doubled quote is an escaped quote.
				next, err := br.ReadByte()
				if err == nil && next == s.quote && s.quote != ']' {
					s.cur.WriteByte(next)
					continue
				}
				if err == nil {
					_ = br.UnreadByte()
				}
				s.quote = 0
			}
			continue
		}

		if isWordByte(c) {
			s.word = append(s.word, c)
			s.cur.WriteByte(c)
			continue
		}
		s.endWord()

		switch c {
		case '\'', '"', '`':
			s.quote = c
			s.cur.WriteByte(c)
		case '[':
			s.quote = ']'
			s.cur.WriteByte(c)
		case '-':
			next, err := br.ReadByte()
			if err == nil && next == '-' {
				if _, err := br.ReadString('\n'); err != nil && err != io.EOF {
					return nil, err
				}
				s.cur.WriteByte('\n')
				continue
			}
			if err == nil {
				_ = br.UnreadByte()
			}
			s.cur.WriteByte(c)
		case '/':
			next, err := br.ReadByte()
			if err == nil && next == '*' {
				if err := skipBlockComment(br); err != nil {
					return nil, err
				}
				s.cur.WriteByte(' ')
				continue
			}
			if err == nil {
				_ = br.UnreadByte()
			}
			s.cur.WriteByte(c)
		case ';':
			if s.trigger && s.depth > 0 {
				s.cur.WriteByte(c)
				continue
			}
			s.flush()
		default:
			s.cur.WriteByte(c)
		}
	}

	if s.quote != 0 {
		return nil, fmt.Errorf("unterminated quoted text in statement %d", len(s.statements)+1)
	}
	s.endWord()
	if s.trigger && s.depth > 0 {
		return nil, fmt.Errorf("unterminated trigger body in statement %d", len(s.statements)+1)
	}
	s.flush()
	return s.statements, nil
}

type splitter struct {
	statements []string
	cur        strings.Builder
	quote      byte

	word  []byte
	lead  []string // first keywords of the current statement
	depth int      // open BEGIN and CASE blocks of a trigger

	trigger bool
}

func (s *splitter) flush() {
	stmt := strings.TrimSpace(s.cur.String())
	s.cur.Reset()
	s.lead = s.lead[:0]
	s.trigger = false
	s.depth = 0
	if stmt != "" {
		s.statements = append(s.statements, stmt)
	}
}

// endWord classifies the keyword just read. Inside a trigger, BEGIN and CASE
// open a block that the matching END closes.
func (s *splitter) endWord() {
	if len(s.word) == 0 {
		return
	}
	w := strings.ToUpper(string(s.word))
	s.word = s.word[:0]

	if len(s.lead) < 3 {
		s.lead = append(s.lead, w)
		s.trigger = isTriggerLead(s.lead)
	}
	if !s.trigger {
		return
	}
	switch w {
	case "BEGIN", "CASE":
		s.depth++
	case "END":
		if s.depth > 0 {
			s.depth--
		}
	}
}

func isTriggerLead(lead []string) bool {
	if len(lead) < 2 || lead[0] != "CREATE" {
		return false
	}
	if lead[1] == "TEMP" || lead[1] == "TEMPORARY" {
		return len(lead) > 2 && lead[2] == "TRIGGER"
	}
	return lead[1] == "TRIGGER"
}

func isWordByte(c byte) bool {
	return c == '_' || c == '$' || c >= 0x80 ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

func skipBlockComment(br *bufio.Reader) error {
	var prev byte
	for {
		c, err := br.ReadByte()
		if err == io.EOF {
			return fmt.Errorf("unterminated block comment")
		}
		if err != nil {
			return err
		}
		if prev == '*' && c == '/' {
			return nil
		}
		prev = c
	}
}
