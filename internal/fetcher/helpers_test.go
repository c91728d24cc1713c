package fetcher

import (
	"time"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func fastHTTP() HTTPOptions {
	return HTTPOptions{Timeout: time.Second, RetryTimes: 3, RetryInterval: time.Millisecond}
}

func mustDate(v string) time.Time {
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		panic(err)
	}
	return t
}
