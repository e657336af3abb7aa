package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"go.uber.org/zap"

	"github.com/jhosuehag/clima-open/internal/alert"
)

// sender is the part of the shoutrrr router the sink uses.
type sender interface {
	Send(message string, params *stypes.Params) []error
}

// PushSink delivers alerts through shoutrrr service URLs (ntfy, telegram,
// discord, ...). One router is shared by all configured URLs.
type PushSink struct {
	sender sender
	log    *zap.Logger
}

// NewPushSink builds a sink for urls. It fails when any URL is invalid.
func NewPushSink(urls []string, timeout time.Duration, logger *zap.Logger) (*PushSink, error) {
	if len(urls) == 0 {
		return nil, errors.New("at least one notification URL is required")
	}
	router, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, fmt.Errorf("create notification sender: %w", sanitize(err))
	}
	if timeout > 0 {
		router.Timeout = timeout
	}
	router.SetLogger(log.New(io.Discard, "", 0))

	if logger == nil {
		logger = zap.NewNop()
	}
	return &PushSink{sender: router, log: logger}, nil
}

func (s *PushSink) Notify(_ context.Context, e alert.Event) error {
	params := stypes.Params{}
	if e.Title != "" {
		params.SetTitle(e.Title)
	}

	var errs []error
	for _, err := range s.sender.Send(e.Message, &params) {
		if err != nil {
			errs = append(errs, sanitize(err))
		}
	}
	if len(errs) > 0 {
		s.log.Warn("push notification failed", zap.String("alert_id", e.ID), zap.Int("failures", len(errs)))
		return fmt.Errorf("push notification: %w", errors.Join(errs...))
	}
	return nil
}

// sanitize drops anything after "://" so tokens embedded in service URLs do
// not reach logs.
func sanitize(err error) error {
	msg := err.Error()
	if i := strings.Index(msg, "://"); i >= 0 {
		return errors.New(msg[:i] + "://[redacted]")
	}
	return err
}
