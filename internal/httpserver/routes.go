package httpserver

import "net/http"

// routeID is the closed set of request classes the server answers.
type routeID int

const (
	routeIndex routeID = iota
	routeList
	routeDownload
	routeDelete
	routeDeleteAll
	routeUpload
	routeADC
	routeLogToggle
	routeLogStatus
	routeCurrentLogFile
	routeSettingsGet
	routeSettingsPost
	routeChannelConfigsGet
	routeChannelConfigsPost
	routeAsset
	routeThumb
	routeMetrics
	routeHealth
	routeWS
	routeDAV
)

type route struct {
	id      routeID
	method  string // empty matches any method
	pattern string
	name    string

	// guarded routes mutate storage or state and sit behind auth.Guard.
	guarded bool

	// unthrottled routes bypass the worker pool. /ws/adc holds its slot for
	// the life of the connection.
	unthrottled bool

	// asset is the embedded file served by routeAsset.
	asset string
}

var routes = []route{
	{id: routeIndex, method: http.MethodGet, pattern: "/", name: "index", asset: "index.html"},
	{id: routeList, method: http.MethodGet, pattern: "/list", name: "list"},
	{id: routeDownload, method: http.MethodGet, pattern: "/download", name: "download"},
	{id: routeDelete, method: http.MethodGet, pattern: "/delete", name: "delete", guarded: true},
	{id: routeDeleteAll, method: http.MethodGet, pattern: "/delete_all", name: "delete_all", guarded: true},
	{id: routeUpload, method: http.MethodPost, pattern: "/upload", name: "upload", guarded: true},

	{id: routeADC, method: http.MethodGet, pattern: "/adc", name: "adc"},
	{id: routeLogToggle, method: http.MethodGet, pattern: "/log", name: "log", guarded: true},
	{id: routeLogStatus, method: http.MethodGet, pattern: "/log_status", name: "log_status"},
	{id: routeCurrentLogFile, method: http.MethodGet, pattern: "/current_log_file", name: "current_log_file"},
	{id: routeSettingsGet, method: http.MethodGet, pattern: "/settings", name: "settings"},
	{id: routeSettingsPost, method: http.MethodPost, pattern: "/settings", name: "settings_save", guarded: true},
	{id: routeChannelConfigsGet, method: http.MethodGet, pattern: "/api/channel-configs", name: "channel_configs"},
	{id: routeChannelConfigsPost, method: http.MethodPost, pattern: "/api/channel-configs", name: "channel_configs_save", guarded: true},

	{id: routeAsset, method: http.MethodGet, pattern: "/style.css", name: "asset", asset: "style.css"},
	{id: routeAsset, method: http.MethodGet, pattern: "/script.js", name: "asset", asset: "script.js"},
	{id: routeAsset, method: http.MethodGet, pattern: "/logging.html", name: "asset", asset: "logging.html"},
	{id: routeAsset, method: http.MethodGet, pattern: "/settings.html", name: "asset", asset: "settings.html"},

	{id: routeThumb, method: http.MethodGet, pattern: "/thumb", name: "thumb"},
	{id: routeMetrics, method: http.MethodGet, pattern: "/metrics", name: "metrics", unthrottled: true},
	{id: routeHealth, method: http.MethodGet, pattern: "/healthz", name: "healthz", unthrottled: true},
	{id: routeWS, method: http.MethodGet, pattern: "/ws/adc", name: "ws_adc", unthrottled: true},
	{id: routeDAV, pattern: "/dav/*", name: "dav"},
}
