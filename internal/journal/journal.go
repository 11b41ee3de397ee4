// Package journal keeps an audit trail of announcements. It is write-only:
// nothing is ever replayed to clients from it.
package journal

import (
	"context"
	"time"

	"github.com/goevery/livefeed/internal/notification"
)

type Entry struct {
	AnnouncementId string
	Type           notification.Type
	CreateTime     time.Time
	Recipients     int
	Failed         int
}

type Journal interface {
	Setup(ctx context.Context) error
	Record(ctx context.Context, entry Entry) error
}

type NopJournal struct{}

func (NopJournal) Setup(context.Context) error {
	return nil
}

func (NopJournal) Record(context.Context, Entry) error {
	return nil
}
