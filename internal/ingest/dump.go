// Package ingest builds the archive database from scraped JSON dumps.
//
// Two dump shapes exist. Forum dumps are objects holding "topic" and "post"
// maps keyed by an arbitrary identifier. Print dumps are arrays of places,
// each listing the posts recovered from the forum's print view; those posts
// have no topic and are identified by the MD5 of their content.
package ingest

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// Format identifies the shape of a dump file.
type Format int

const (
	FormatForum Format = iota
	FormatPrint
)

func (f Format) String() string {
	if f == FormatPrint {
		return "print"
	}
	return "forum"
}

// ErrUnknownShape marks a JSON file that is not a dump of the expected format.
var ErrUnknownShape = errors.New("unrecognised dump shape")

// TopicRow is one topic to insert.
type TopicRow struct {
	ID    string
	Title any
}

// PostRow is one post to insert. Scraped columns keep whatever type the
// dump carried; nil becomes NULL.
type PostRow struct {
	ID        string
	TopicID   any
	Place     any
	Position  any
	Author    any
	Content   any
	CreatedAt any
}

// Dump is a decoded file.
type Dump struct {
	Source  string
	Format  Format
	Topics  []TopicRow
	Posts   []PostRow
	Dropped int // rows without a usable id
}

type forumTopic struct {
	ID    json.RawMessage `json:"_id"`
	Title json.RawMessage `json:"title"`
}

type forumPost struct {
	ID       json.RawMessage `json:"_id"`
	TopicID  json.RawMessage `json:"_topic_id"`
	Position json.RawMessage `json:"_position"`
	Author   json.RawMessage `json:"author"`
	Content  json.RawMessage `json:"content"`
	Date     json.RawMessage `json:"date"`
}

type printPlace struct {
	Place json.RawMessage `json:"place"`
	Posts []struct {
		Position json.RawMessage `json:"_position"`
		Author   json.RawMessage `json:"author"`
		Content  json.RawMessage `json:"content"`
		Date     json.RawMessage `json:"date"`
	} `json:"posts"`
}

// Decode reads a dump of the given format.
func Decode(r io.Reader, source string, format Format) (*Dump, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", source, err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%s: invalid JSON", source)
	}
	if format == FormatPrint {
		return decodePrint(data, source)
	}
	return decodeForum(data, source)
}

func decodeForum(data []byte, source string) (*Dump, error) {
	if first := firstByte(data); first != '{' {
		return nil, fmt.Errorf("%s: %w: forum dump must be an object", source, ErrUnknownShape)
	}
	var raw struct {
		Topic map[string]forumTopic `json:"topic"`
		Post  map[string]forumPost  `json:"post"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", source, ErrUnknownShape, err)
	}

	d := &Dump{Source: source, Format: FormatForum}
	for _, key := range sortedKeys(raw.Topic) {
		t := raw.Topic[key]
		id := identifier(t.ID)
		if id == "" {
			d.Dropped++
			continue
		}
		d.Topics = append(d.Topics, TopicRow{ID: id, Title: scalar(t.Title)})
	}
	for _, key := range sortedKeys(raw.Post) {
		p := raw.Post[key]
		id := identifier(p.ID)
		if id == "" {
			d.Dropped++
			continue
		}
		var topicID any
		if tid := identifier(p.TopicID); tid != "" {
			topicID = tid
		}
		d.Posts = append(d.Posts, PostRow{
			ID:        id,
			TopicID:   topicID,
			Position:  scalar(p.Position),
			Author:    scalar(p.Author),
			Content:   scalar(p.Content),
			CreatedAt: scalar(p.Date),
		})
	}
	return d, nil
}

func decodePrint(data []byte, source string) (*Dump, error) {
	if first := firstByte(data); first != '[' {
		return nil, fmt.Errorf("%s: %w: print dump must be an array", source, ErrUnknownShape)
	}
	var places []printPlace
	if err := json.Unmarshal(data, &places); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", source, ErrUnknownShape, err)
	}

	d := &Dump{Source: source, Format: FormatPrint}
	for _, place := range places {
		name := scalar(place.Place)
		for _, p := range place.Posts {
			content, ok := scalar(p.Content).(string)
			if !ok {
				d.Dropped++
				continue
			}
			d.Posts = append(d.Posts, PostRow{
				ID:        ContentID(content),
				Place:     name,
				Position:  scalar(p.Position),
				Author:    scalar(p.Author),
				Content:   content,
				CreatedAt: scalar(p.Date),
			})
		}
	}
	return d, nil
}

// ContentID is the identifier of a print-dump post: lowercase hex MD5 of its content.
func ContentID(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

func firstByte(data []byte) byte {
	data = bytes.TrimLeft(data, " \t\r\n")
	if len(data) == 0 {
		return 0
	}
	return data[0]
}

// identifier renders a number or string id as text; anything else is "".
func identifier(raw json.RawMessage) string {
	switch v := scalar(raw).(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// scalar decodes a raw JSON value into something database/sql can bind.
// Integers stay integers; objects and arrays are kept as JSON text.
func scalar(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	switch t := v.(type) {
	case nil, string:
		return t
	case bool:
		if t {
			return int64(1)
		}
		return int64(0)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	default:
		return string(raw)
	}
}

// sortedKeys orders map keys numerically when both are integers.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.ParseInt(keys[i], 10, 64)
		b, errB := strconv.ParseInt(keys[j], 10, 64)
		if errA == nil && errB == nil {
			return a < b
		}
		if (errA == nil) != (errB == nil) {
			return errA == nil
		}
		return keys[i] < keys[j]
	})
	return keys
}
