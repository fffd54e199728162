package e2e

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/downfa11-org/go-itest/pkg/auth"
	"github.com/downfa11-org/go-itest/pkg/urlify"
	"github.com/downfa11-org/go-itest/util"
)

// UploadResource stores a new resource and waits for its stored event.
func (a *Actions) UploadResource(prefix string) *Actions {
	c := a.ctx
	c.id = util.NewID(prefix)
	c.t.Logf("Uploading resource %s and waiting up to %v for its event", c.id, c.timeout)

	c.waitErr = c.waiter.Await(context.Background(), c.timeout, resourceTopic, c.id, func(ctx context.Context) error {
		return a.put(ctx, c.id)
	})
	return a
}

// AwaitUnrelatedResource waits for the current id while only a different
// resource is uploaded.
func (a *Actions) AwaitUnrelatedResource(prefix string) *Actions {
	c := a.ctx
	c.id = util.NewID(prefix)
	other := util.NewID(prefix)

	c.waitErr = c.waiter.Await(context.Background(), c.timeout, resourceTopic, c.id, func(ctx context.Context) error {
		return a.put(ctx, other)
	})
	return a
}

func (a *Actions) put(ctx context.Context, id string) error {
	c := a.ctx
	u, err := urlify.Urlify(c.service, "resource/"+id)
	if err != nil {
		return err
	}
	body := fmt.Sprintf(`{"id":%q,"kind":"sbom"}`, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u.String(), bytes.NewBufferString(body))
	if err != nil {
		return err
	}
	if err := auth.Inject(ctx, req, c.auth.Manager); err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("upload %s: status %d", id, resp.StatusCode)
	}
	return nil
}

// FetchResource reads the current resource expecting status.
func (a *Actions) FetchResource(status int) *Actions {
	c := a.ctx
	u := urlify.MustUrlify(c.service, "resource/"+c.id)
	c.body, c.hasBody, c.fetchErr = c.asserter.Get(context.Background(), u, status)
	return a
}

// FetchMissingResource reads an id that was never uploaded.
func (a *Actions) FetchMissingResource(status int) *Actions {
	a.ctx.id = util.NewID("missing")
	return a.FetchResource(status)
}
