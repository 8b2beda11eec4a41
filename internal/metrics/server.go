package metrics

import (
	"expvar"
	"net/http"
	"net/http/pprof"
)

// Handler 返回 expvar + pprof 的 mux，由控制面挂载：
// - expvar: /debug/vars
// - pprof:  /debug/pprof
// 建议仅在 localhost 或内网暴露。
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/debug/vars", expvar.Handler())

	// 显式注册到我们的 mux，避免依赖 DefaultServeMux 的全局副作用
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}
