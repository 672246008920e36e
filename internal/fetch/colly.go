package fetch

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// StaticFetcher retrieves pages with a plain HTTP client built on the Colly
// collector. It is the first-line fetcher; rendering is only engaged when a
// detector asks for it.
type StaticFetcher struct {
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// NewStaticFetcher constructs a configured Colly-based Fetcher.
func NewStaticFetcher(opts Options, logger *zap.Logger) (*StaticFetcher, error) {
	base := colly.NewCollector(
		colly.Async(true),
		colly.UserAgent(opts.UserAgent),
	)
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		MaxConnsPerHost:       maxInt(2, opts.Concurrency*2),
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: opts.RequestTimeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(opts.RequestTimeout)

	if opts.DomainQPS > 0 {
		delay := time.Duration(float64(time.Second) / opts.DomainQPS)
		if err := base.Limit(&colly.LimitRule{
			DomainGlob:  "*",
			Parallelism: maxInt(1, opts.Concurrency),
			Delay:       delay,
		}); err != nil {
			return nil, err
		}
	}

	return &StaticFetcher{
		baseCollector: base,
		logger:        logger,
	}, nil
}

// Fetch retrieves a page via the configured Colly collector.
func (f *StaticFetcher) Fetch(ctx context.Context, rawURL string) (Result, error) {
	collector := f.baseCollector.Clone()
	resultCh := make(chan staticResult, 1)
	var once sync.Once
	send := func(res staticResult) {
		once.Do(func() {
			resultCh <- res
		})
	}

	collector.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			for k, v := range *r.Headers {
				cp := make([]string, len(v))
				copy(cp, v)
				headers[k] = cp
			}
		}
		res := Result{
			URL:        rawURL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte{}, r.Body...),
		}
		send(staticResult{res: res})
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= 400 {
			send(staticResult{err: StatusError(rawURL, r.StatusCode)})
			return
		}
		if err == nil {
			err = errors.New("unknown colly error")
		}
		send(staticResult{err: Classify(rawURL, err)})
	})

	if err := collector.Visit(rawURL); err != nil {
		return Result{}, Classify(rawURL, err)
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if res.err != nil {
			return Result{}, res.err
		}
		if res.res.StatusCode >= 400 {
			return Result{}, StatusError(rawURL, res.res.StatusCode)
		}
		return res.res, nil
	default:
		return Result{}, &Error{Kind: KindTransport, URL: rawURL, Err: errors.New("no response produced")}
	}
}

type staticResult struct {
	res Result
	err error
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
