package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// HTTPDispatcher posts events to an external notification service.
type HTTPDispatcher struct {
	BaseURL string
	Client  *http.Client
}

func (d HTTPDispatcher) Dispatch(ctx context.Context, e Event) error {
	if d.Client == nil {
		d.Client = &http.Client{Timeout: 5 * time.Second}
	}

	b, _ := json.Marshal(e)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.BaseURL+"/notifications/send", bytes.NewBuffer(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return errors.New("notification service error")
	}
	return nil
}
