package binance

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

const klines = `[
 [1700000000000,"100.5","101.0","99.5","100.8","12.5",1700000059999,"1260.0",42,"6.0","604.0","0"],
 [1700000060000,"100.8","102.0","100.1","101.9","8.25",1700000119999,"840.0",31,"4.0","408.0","0"]
]`

func TestParseKlines(t *testing.T) {
	bars, err := ParseKlines([]byte(klines))
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 2 {
		t.Fatalf("len = %d, want 2", len(bars))
	}
	b := bars[1]
	if b.Millis() != 1700000060000 || b.Open != 100.8 || b.High != 102 || b.Low != 100.1 || b.Close != 101.9 || b.Volume != 8.25 {
		t.Errorf("bar = %+v", b)
	}
}

func TestParseKlines_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>`},
		{"object", `{"code":-1121,"msg":"Invalid symbol."}`},
		{"short row", `[[1700000000000,"1","2"]]`},
		{"garbage price", `[[1700000000000,"abc","1.0","1.0","1.0","1.0"]]`},
		{"empty close", `[[1700000000000,"1.0","1.0","1.0","","1.0"]]`},
		{"null open time", `[[null,"1","1","1","1","1"]]`},
		{"quoted open time", `[["1700000000000","1","1","1","1","1"]]`},
		{"null volume", `[[1700000000000,"1","1","1","1",null]]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseKlines([]byte(tt.body)); !errors.Is(err, ErrMalformed) {
				t.Errorf("err = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestParseKlines_Empty(t *testing.T) {
	bars, err := ParseKlines([]byte(`[]`))
	if err != nil || len(bars) != 0 {
		t.Errorf("bars = %v err = %v", bars, err)
	}
}

func TestNormalizeSymbol(t *testing.T) {
	for in, want := range map[string]string{"BTC/USDT": "BTCUSDT", "eth-usdt": "ETHUSDT", "SOLUSDT": "SOLUSDT"} {
		if got := NormalizeSymbol(in); got != want {
			t.Errorf("NormalizeSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}

// serve starts an in-memory fasthttp server and returns a fetcher dialing it.
func serve(t *testing.T, h fasthttp.RequestHandler) *Fetcher {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	go fasthttp.Serve(ln, h)
	t.Cleanup(func() { ln.Close() })

	client := &fasthttp.Client{Dial: func(string) (net.Conn, error) { return ln.Dial() }}
	return NewFetcher(Config{
		BaseURL:         "http://binance.test",
		Timeout:         time.Second,
		RequestsPerSec:  100,
		MaxRetryElapsed: 2 * time.Second,
	}, WithClient(client))
}

func TestFetch_QueryAndDecode(t *testing.T) {
	var gotQuery string
	f := serve(t, func(ctx *fasthttp.RequestCtx) {
		gotQuery = string(ctx.QueryArgs().QueryString())
		ctx.SetContentType("application/json")
		ctx.SetBodyString(klines)
	})

	since := time.UnixMilli(1700000000000)
	bars, err := f.Fetch(context.Background(), "BTC/USDT", "1m", &since, 5000)
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 2 {
		t.Fatalf("len = %d", len(bars))
	}
	want := "symbol=BTCUSDT&interval=1m&limit=1000&startTime=1700000000000"
	if gotQuery != want {
		t.Errorf("query = %q, want %q", gotQuery, want)
	}
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	var calls int32
	f := serve(t, func(ctx *fasthttp.RequestCtx) {
		if atomic.AddInt32(&calls, 1) == 1 {
			ctx.SetStatusCode(fasthttp.StatusBadGateway)
			return
		}
		ctx.SetBodyString(klines)
	})

	bars, err := f.Fetch(context.Background(), "BTCUSDT", "1m", nil, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 2 || atomic.LoadInt32(&calls) != 2 {
		t.Errorf("bars = %d calls = %d", len(bars), calls)
	}
}

func TestFetch_ClientErrorIsPermanent(t *testing.T) {
	var calls int32
	f := serve(t, func(ctx *fasthttp.RequestCtx) {
		atomic.AddInt32(&calls, 1)
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		ctx.SetBodyString(`{"code":-1121,"msg":"Invalid symbol."}`)
	})

	_, err := f.Fetch(context.Background(), "NOPE", "1m", nil, 10)
	var fe *FetchError
	if !errors.As(err, &fe) || fe.StatusCode != fasthttp.StatusBadRequest {
		t.Fatalf("err = %v, want FetchError 400", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
