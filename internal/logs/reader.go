// Package logs reads job output from CloudWatch Logs.
package logs

import (
	"context"
	"fmt"
	"iter"
	"time"

	"batchctl/internal/apperrors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
)

// DefaultGroup is where the compute service writes container output.
const DefaultGroup = "/aws/batch/job"

// maxPageSize is the largest page the log store returns.
const maxPageSize = 10000

// API is the part of the CloudWatch Logs client the reader uses.
type API interface {
	GetLogEvents(ctx context.Context, in *cloudwatchlogs.GetLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.GetLogEventsOutput, error)
}

// Direction is the order in which a reader walks a stream.
type Direction int

const (
	Forward  Direction = iota // oldest first
	Backward                  // newest first
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// Event is one log line.
type Event struct {
	Timestamp time.Time
	Message   string
}

// String renders the event as "2006-01-02 15:04:05 message".
func (e Event) String() string {
	return e.Timestamp.Format(time.DateTime) + " " + e.Message
}

// Cursor is the continuation token of a reader, valid only for the same
// group, stream and direction.
type Cursor struct {
	Group     string
	Stream    string
	Direction Direction
	Token     string
}

// Options select the window of a reader. Head and Tail are mutually
// exclusive; zero means unbounded.
type Options struct {
	Head   int
	Tail   int
	Cursor *Cursor // resume point; nil starts fresh
}

// Reader pages through one log stream. The direction is fixed at
// construction and the cursor only moves forward in that direction.
type Reader struct {
	api    API
	group  string
	stream string
	head   int
	tail   int
	dir    Direction
	token  string
}

// NewReader creates a reader for stream in group.
func NewReader(api API, group, stream string, opts Options) (*Reader, error) {
	if stream == "" {
		return nil, apperrors.Validation("stream", "log stream name is required")
	}
	if opts.Head < 0 || opts.Tail < 0 {
		return nil, apperrors.Validation("head", "head and tail must not be negative")
	}
	if opts.Head > 0 && opts.Tail > 0 {
		return nil, apperrors.Validation("tail", "head and tail are mutually exclusive")
	}
	if group == "" {
		group = DefaultGroup
	}

	r := &Reader{api: api, group: group, stream: stream, head: opts.Head, tail: opts.Tail}
	if opts.Tail > 0 {
		r.dir = Backward
	}
	if c := opts.Cursor; c != nil {
		if c.Group != group || c.Stream != stream || c.Direction != r.dir {
			return nil, apperrors.Validation("cursor", fmt.Sprintf("cursor for %s/%s (%s) does not match reader", c.Group, c.Stream, c.Direction))
		}
		r.token = c.Token
	}
	return r, nil
}

// Cursor returns the current continuation point.
func (r *Reader) Cursor() Cursor {
	return Cursor{Group: r.group, Stream: r.stream, Direction: r.dir, Token: r.token}
}

// Direction returns the reader's direction.
func (r *Reader) Direction() Direction { return r.dir }

// Events yields the events currently available after the cursor. A bounded
// head or tail reads a single page; otherwise paging continues until an
// empty page. The cursor advances after each fully consumed page.
func (r *Reader) Events(ctx context.Context) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		bounded := r.head > 0 || r.tail > 0
		limit := int32(min(orMax(r.head), orMax(r.tail)))

		for {
			in := &cloudwatchlogs.GetLogEventsInput{
				LogGroupName:  aws.String(r.group),
				LogStreamName: aws.String(r.stream),
				Limit:         aws.Int32(limit),
				StartFromHead: aws.Bool(r.dir == Forward),
			}
			if r.token != "" {
				in.NextToken = aws.String(r.token)
			}

			page, err := r.api.GetLogEvents(ctx, in)
			if err != nil {
				yield(Event{}, apperrors.FromAWS("logs.GetLogEvents", err))
				return
			}

			for _, e := range page.Events {
				if e.Timestamp == nil || e.Message == nil {
					continue
				}
				if !yield(Event{Timestamp: time.UnixMilli(*e.Timestamp).UTC(), Message: *e.Message}, nil) {
					return
				}
			}

			next := r.nextToken(page)
			unchanged := next == "" || next == r.token
			if next != "" {
				r.token = next
			}
			if bounded || len(page.Events) == 0 || unchanged {
				return
			}
		}
	}
}

// Read collects Events into a slice.
func (r *Reader) Read(ctx context.Context) ([]Event, error) {
	var out []Event
	for e, err := range r.Events(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *Reader) nextToken(page *cloudwatchlogs.GetLogEventsOutput) string {
	if r.dir == Backward {
		return aws.ToString(page.NextBackwardToken)
	}
	return aws.ToString(page.NextForwardToken)
}

func orMax(n int) int {
	if n <= 0 || n > maxPageSize {
		return maxPageSize
	}
	return n
}
