package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-redis/redis/v8"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	"github.com/reqprof/reqprof"
	"github.com/reqprof/reqprof/internal/logutil"
	"github.com/reqprof/reqprof/internal/resultcache"
)

type environment struct {
	config ServiceConfig

	cache *resultcache.Cache
	redis *redis.Client
}

var release string

func newEnvironment() (*environment, error) {
	var e environment
	if err := cleanenv.ReadEnv(&e.config); err != nil {
		return nil, err
	}

	if e.config.RedisAddr != "" {
		e.redis = redis.NewClient(&redis.Options{
			Addr:     e.config.RedisAddr,
			Password: e.config.RedisPassword,
			DB:       e.config.RedisDB,
		})
		if err := e.redis.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("redis at %s: %w", e.config.RedisAddr, err)
		}
		e.cache = resultcache.New(resultcache.NewRedisStore(e.redis))
	} else {
		e.cache = resultcache.New(resultcache.NewMemoryStore(resultcache.DefaultMaxValueSize))
	}
	return &e, nil
}

func (e *environment) shutdown() {
	if e.redis != nil {
		if err := e.redis.Close(); err != nil {
			sentry.CaptureException(err)
		}
	}
	sentry.Flush(5 * time.Second)
}

func (e *environment) newRouter() (http.Handler, error) {
	compress, err := httpcompression.DefaultAdapter()
	if err != nil {
		return nil, err
	}

	router := httprouter.New()
	reqprof.NewHandler(e.cache).RegisterRoutes(router)

	routes := []struct {
		method  string
		path    string
		handler http.HandlerFunc
	}{
		{http.MethodGet, "/health", e.getHealth},
		{http.MethodGet, "/demo/slow", getSlow},
		{http.MethodGet, "/demo/redirect", getRedirect},
	}
	for _, route := range routes {
		router.Handler(route.method, route.path, compress(route.handler))
	}

	return reqprof.Middleware(router, reqprof.Options{Cache: e.cache}), nil
}

func main() {
	logutil.ConfigureLogger()

	env, err := newEnvironment()
	if err != nil {
		log.Fatal().Err(err).Msg("error setting up environment")
	}

	err = sentry.Init(sentry.ClientOptions{
		Dsn:         env.config.SentryDSN,
		Environment: env.config.Environment,
		Release:     release,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("can't initialize sentry")
	}

	router, err := env.newRouter()
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("error setting up the router")
	}

	server := http.Server{
		Addr:    ":" + env.config.Port,
		Handler: sentryhttp.New(sentryhttp.Options{}).Handle(router),
	}

	waitForShutdown := make(chan os.Signal)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c

		cctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(cctx); err != nil {
			sentry.CaptureException(err)
			log.Err(err).Msg("error shutting down server")
		}

		close(waitForShutdown)
	}()

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		sentry.CaptureException(err)
		log.Err(err).Msg("server failed")
	}

	<-waitForShutdown

	env.shutdown()
}

func (e *environment) getHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// getSlow burns a little wall time so a sampling profile has something to
// show. Request it with X-Reqprof-Mode: sampling and fetch
// /reqprof/request?request_ids=<X-Reqprof-Id>.
func getSlow(w http.ResponseWriter, r *http.Request) {
	slowWork(100 * time.Millisecond)
	fmt.Fprintln(w, "done")
}

//go:noinline
func slowWork(d time.Duration) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
}

func getRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/demo/slow", http.StatusFound)
}
