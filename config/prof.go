package config

import (
	"net/http"
	_ "net/http/pprof"
	"runtime"
	"time"

	"github.com/gogf/greuse"
	log "github.com/sirupsen/logrus"
)

func PrintMemUsage() {
	bToMb := func(b uint64) uint64 {
		return b / 1024 / 1024
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	log.WithField("prof", true).Infof("Alloc = %v MiB\tTotalAlloc = %v MiB\tSys = %v MiB\tGoroutines = %v\tNumGC = %v",
		bToMb(m.Alloc),
		bToMb(m.TotalAlloc),
		bToMb(m.Sys),
		runtime.NumGoroutine(),
		m.NumGC)
}

func InitProfiling() {
	if Config.PprofHost == "" {
		return
	}
	go func() {
		ticker := time.NewTicker(time.Minute * 1)
		for {
			PrintMemUsage()
			<-ticker.C
		}
	}()
	go func() {
		listener, err := greuse.Listen("tcp", Config.PprofHost)
		if err != nil {
			log.WithField("prof", true).Warnf("pprof listen failed: %v", err)
			return
		}
		err = http.Serve(listener, nil)
		log.WithField("prof", true).Warnf("pprof server exited: %v", err)
	}()
}
