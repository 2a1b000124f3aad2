package protocol

import (
	"sort"
	"strings"
)

const commandPrefix = "##vso["

// Command is a `##vso[area.event key=value;...]data` logging command.
type Command struct {
	Area       string
	Event      string
	Properties map[string]string
	Data       string
}

var dataEscapes = []struct{ raw, escaped string }{
	{"%", "%AZP25"},
	{"\r", "%0D"},
	{"\n", "%0A"},
}

var propertyEscapes = []struct{ raw, escaped string }{
	{"%", "%AZP25"},
	{";", "%3B"},
	{"\r", "%0D"},
	{"\n", "%0A"},
	{"]", "%5D"},
}

// String formats the command as a single output line.
func (c Command) String() string {
	var b strings.Builder
	b.WriteString(commandPrefix)
	b.WriteString(c.Area)
	b.WriteByte('.')
	b.WriteString(c.Event)

	keys := make([]string, 0, len(c.Properties))
	for k := range c.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i == 0 {
			b.WriteByte(' ')
		} else {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(escape(c.Properties[k], propertyEscapes))
	}
	b.WriteByte(']')
	b.WriteString(escape(c.Data, dataEscapes))
	return b.String()
}

// ParseCommand parses a logging command line. ok is false if line is not one.
func ParseCommand(line string) (Command, bool) {
	line = strings.TrimSpace(line)
	start := strings.Index(line, commandPrefix)
	if start < 0 {
		return Command{}, false
	}
	rest := line[start+len(commandPrefix):]
	end := strings.IndexByte(rest, ']')
	if end < 0 {
		return Command{}, false
	}
	head, data := rest[:end], rest[end+1:]

	name, props, _ := strings.Cut(head, " ")
	area, event, found := strings.Cut(name, ".")
	if !found || area == "" || event == "" {
		return Command{}, false
	}

	cmd := Command{
		Area:       area,
		Event:      event,
		Properties: map[string]string{},
		Data:       unescape(data, dataEscapes),
	}
	for _, pair := range strings.Split(props, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		cmd.Properties[strings.TrimSpace(k)] = unescape(v, propertyEscapes)
	}
	return cmd, true
}

// Is reports whether the command targets area.event, ignoring case.
func (c Command) Is(area, event string) bool {
	return strings.EqualFold(c.Area, area) && strings.EqualFold(c.Event, event)
}

func escape(s string, table []struct{ raw, escaped string }) string {
	for _, e := range table {
		s = strings.ReplaceAll(s, e.raw, e.escaped)
	}
	return s
}

func unescape(s string, table []struct{ raw, escaped string }) string {
	for i := len(table) - 1; i >= 0; i-- {
		s = strings.ReplaceAll(s, table[i].escaped, table[i].raw)
	}
	return s
}
