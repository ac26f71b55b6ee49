package gateway

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// maxParallelRequests keeps a fan-out from flooding the request queue.
const maxParallelRequests = 10

// TaggedResponse pairs a fan-out response with the caller's correlation id.
type TaggedResponse struct {
	ResultID string
	Response *Response
}

// Parallel runs independent requests concurrently; each one still passes
// through the queue and the rate-limit gate. Individual failures become nil
// responses instead of aborting the batch.
func (c *Client) Parallel(ctx context.Context, specs []RequestSpec) ([]TaggedResponse, error) {
	out := make([]TaggedResponse, len(specs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelRequests)
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			resp, err := c.Request(gctx, spec)
			if err != nil {
				c.log.Warn("fan-out request failed",
					"route", spec.Route, "result_id", spec.ResultID, "error", err)
				resp = nil
			}
			out[i] = TaggedResponse{ResultID: spec.ResultID, Response: resp}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
