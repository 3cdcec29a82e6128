// Package external turns payloads exported from an external calendar into
// raw external events. It performs no network I/O; the caller supplies the
// bytes. Any decoding failure is reported as errs.ErrFetchFailed so that
// reconciliation never runs against a broken batch.
package external

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	calendar "google.golang.org/api/calendar/v3"

	"github.com/karthikpasupathy/yearview/internal/errs"
	"github.com/karthikpasupathy/yearview/internal/model"
)

// statusCancelled marks deleted instances in a Google events list.
const statusCancelled = "cancelled"

// DecodeGoogleEvents reads a Google Calendar events.list response (or a bare
// JSON array of its items) and returns the non-cancelled events. An empty
// items list is a confirmed empty result, not an error.
func DecodeGoogleEvents(r io.Reader) ([]model.ExternalEvent, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read google payload: %v", errs.ErrFetchFailed, err)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty google payload", errs.ErrFetchFailed)
	}

	var items []*calendar.Event
	if body[0] == '[' {
		err = json.Unmarshal(body, &items)
	} else {
		var list calendar.Events
		if err = json.Unmarshal(body, &list); err == nil {
			items = list.Items
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode google payload: %v", errs.ErrFetchFailed, err)
	}

	out := make([]model.ExternalEvent, 0, len(items))
	for i, it := range items {
		if it == nil || it.Status == statusCancelled {
			continue
		}
		if it.Id == "" || it.Start == nil {
			return nil, fmt.Errorf("%w: google item %d lacks id or start", errs.ErrFetchFailed, i)
		}
		out = append(out, fromGoogle(it))
	}
	return out, nil
}

func fromGoogle(it *calendar.Event) model.ExternalEvent {
	x := model.ExternalEvent{
		ID:          it.Id,
		Summary:     it.Summary,
		Description: it.Description,
		ColorID:     it.ColorId,
		Start:       model.ExternalTime{Date: it.Start.Date, DateTime: it.Start.DateTime},
	}
	if it.End != nil {
		x.End = model.ExternalTime{Date: it.End.Date, DateTime: it.End.DateTime}
	}
	return x
}
