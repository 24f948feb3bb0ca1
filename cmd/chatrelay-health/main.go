// chatrelay-health is a tiny readiness probe for containers and CI. It
// issues one request against the server's /readyz endpoint and exits
// nonzero when the server is absent or not ready.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/valyala/fasthttp"
)

func main() {
	target := flag.String("target", "http://127.0.0.1:8080/readyz", "URL to probe")
	timeout := flag.Duration("timeout", 2*time.Second, "request timeout")
	flag.Parse()

	c := &fasthttp.Client{
		ReadTimeout:  *timeout,
		WriteTimeout: *timeout,
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)
	req.SetRequestURI(*target)

	if err := c.DoTimeout(req, resp, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "probe failed: %v\n", err)
		os.Exit(1)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		fmt.Fprintf(os.Stderr, "not ready: status %d\n", resp.StatusCode())
		os.Exit(1)
	}
	fmt.Println(string(resp.Body()))
}
