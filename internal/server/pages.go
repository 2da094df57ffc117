package server

import (
	"bytes"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fraudpop/fraudpop/internal/logging"
	"github.com/fraudpop/fraudpop/internal/projections"
)

// Page names double as the JSON member holding the page model.
const (
	pageDashboard = "dashboard"
	pageAlerts    = "alerts"
	pageEvidence  = "evidence"
	pageOrder     = "order"
	pageSettings  = "settings"
)

// pageData is what every template receives.
type pageData struct {
	Title  string
	Nav    string
	Shop   string
	APIKey string
	Data   any
}

var pageTitles = map[string]string{
	pageDashboard: "Dashboard",
	pageAlerts:    "Alerts",
	pageEvidence:  "Evidence",
	pageOrder:     "Order",
	pageSettings:  "Settings",
}

var pageFuncs = template.FuncMap{
	"when": func(t time.Time) string {
		if t.IsZero() {
			return projections.Placeholder
		}
		return t.UTC().Format("2006-01-02 15:04")
	},
	"whenPtr": func(t *time.Time) string {
		if t == nil || t.IsZero() {
			return projections.Placeholder
		}
		return t.UTC().Format("2006-01-02")
	},
	"count": func(n *int) string {
		if n == nil {
			return projections.Placeholder
		}
		return strconv.Itoa(*n)
	},
	"summary": projections.ReasonsSummary,
}

var pages = func() map[string]*template.Template {
	base := template.Must(template.New("layout").Funcs(pageFuncs).Parse(layoutHTML))
	bodies := map[string]string{
		pageDashboard: dashboardPageHTML,
		pageAlerts:    alertsPageHTML,
		pageEvidence:  evidencePageHTML,
		pageOrder:     orderPageHTML,
		pageSettings:  settingsPageHTML,
	}
	out := make(map[string]*template.Template, len(bodies))
	for name, body := range bodies {
		out[name] = template.Must(template.Must(base.Clone()).Parse(body))
	}
	return out
}()

// render writes the page as HTML, or the page model as JSON when the client
// asks for it.
func (s *Server) render(c *gin.Context, page, shop string, data any) {
	if c.NegotiateFormat(gin.MIMEHTML, gin.MIMEJSON) == gin.MIMEJSON {
		c.JSON(http.StatusOK, gin.H{"ok": true, page: data})
		return
	}

	var buf bytes.Buffer
	err := pages[page].ExecuteTemplate(&buf, "layout", pageData{
		Title:  pageTitles[page],
		Nav:    page,
		Shop:   shop,
		APIKey: s.cfg.ShopifyAPIKey,
		Data:   data,
	})
	if err != nil {
		logging.L(c.Request.Context()).Error("render page", "page", page, "error", err)
		exception(c, "render failed")
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

const layoutHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <meta name="shopify-api-key" content="{{.APIKey}}">
    <title>{{.Title}} · FraudPop</title>
    <script src="https://cdn.shopify.com/shopifycloud/app-bridge.js"></script>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        :root {
            --bg: #f6f6f7; --card: #ffffff; --border: #e1e3e5;
            --text: #202223; --text-secondary: #6d7175;
            --critical: #d72c0d; --warning: #b98900; --success: #008060;
        }
        body { font-family: -apple-system, BlinkMacSystemFont, 'Inter', sans-serif; background: var(--bg); color: var(--text); font-size: 14px; }
        .container { max-width: 1200px; margin: 0 auto; padding: 0 24px; }
        header { border-bottom: 1px solid var(--border); background: var(--card); padding: 14px 0; }
        .header-inner { display: flex; justify-content: space-between; align-items: center; }
        .logo { font-weight: 600; }
        nav { display: flex; gap: 24px; }
        nav a { color: var(--text-secondary); text-decoration: none; }
        nav a.active { color: var(--text); font-weight: 600; }
        h1 { font-size: 20px; font-weight: 600; margin: 24px 0 16px; }
        .card { background: var(--card); border: 1px solid var(--border); border-radius: 8px; padding: 16px; margin-bottom: 16px; }
        .kpis { display: grid; grid-template-columns: repeat(4, 1fr); gap: 16px; }
        .kpi-value { font-size: 24px; font-weight: 600; }
        .kpi-label { color: var(--text-secondary); font-size: 12px; }
        table { width: 100%; border-collapse: collapse; }
        th, td { text-align: left; padding: 8px; border-bottom: 1px solid var(--border); }
        th { color: var(--text-secondary); font-weight: 500; font-size: 12px; }
        .badge { display: inline-block; padding: 2px 8px; border-radius: 10px; font-size: 12px; font-weight: 500; color: #fff; }
        .badge.critical { background: var(--critical); }
        .badge.warning { background: var(--warning); }
        .badge.success { background: var(--success); }
        .muted { color: var(--text-secondary); }
        .banner { border-left: 4px solid var(--warning); }
        dl { display: grid; grid-template-columns: 180px 1fr; gap: 8px; }
        dt { color: var(--text-secondary); }
    </style>
</head>
<body>
    <header>
        <div class="container header-inner">
            <span class="logo">FraudPop</span>
            <nav>
                <a href="/app" {{if eq .Nav "dashboard"}}class="active"{{end}}>Dashboard</a>
                <a href="/app/alerts" {{if eq .Nav "alerts"}}class="active"{{end}}>Alerts</a>
                <a href="/app/settings" {{if eq .Nav "settings"}}class="active"{{end}}>Settings</a>
            </nav>
            <span class="muted">{{.Shop}}</span>
        </div>
    </header>
    <main class="container">
        {{template "content" .Data}}
    </main>
</body>
</html>
{{define "orders"}}
<table>
    <thead><tr><th>Order</th><th>Created</th><th>Customer</th><th>Total</th><th>Risk</th><th>Score</th><th>Flags</th></tr></thead>
    <tbody>
    {{range .}}
        <tr>
            <td><a href="/app/evidence/{{.ID}}">{{.Name}}</a></td>
            <td>{{when .CreatedAt}}</td>
            <td>{{if .Email}}{{.Email}}{{else}}—{{end}}</td>
            <td>{{.Total}}</td>
            <td><span class="badge {{.Tone}}">{{.Label}}</span></td>
            <td>{{.Score}}</td>
            <td class="muted">{{.ReasonsSummary}}</td>
        </tr>
    {{else}}
        <tr><td colspan="7" class="muted">No orders in this window.</td></tr>
    {{end}}
    </tbody>
</table>
{{end}}`

const dashboardPageHTML = `{{define "content"}}
<h1>Risk overview</h1>
{{if not .HasDefinitions}}
<div class="card banner">Risk fields are not set up for this store yet. Reload once setup completes.</div>
{{end}}
<div class="kpis">
    <div class="card"><div class="kpi-value">{{.KPIs.Total}}</div><div class="kpi-label">Orders (last {{.Days}} days)</div></div>
    <div class="card"><div class="kpi-value">{{.KPIs.High}}</div><div class="kpi-label">High</div></div>
    <div class="card"><div class="kpi-value">{{.KPIs.Medium}}</div><div class="kpi-label">Medium</div></div>
    <div class="card"><div class="kpi-value">{{.KPIs.Low}}</div><div class="kpi-label">Low</div></div>
</div>
<div class="card">
    <h2>Recent alerts</h2>
    {{template "orders" .RecentAlerts}}
</div>
<div class="card">
    <h2>Latest orders</h2>
    {{template "orders" .Orders}}
</div>
{{end}}`

const alertsPageHTML = `{{define "content"}}
<h1>Alerts</h1>
<form class="card" method="get" action="/app/alerts">
    <label>Window
        <select name="days">
            <option value="7" {{if eq .Query.Days 7}}selected{{end}}>7 days</option>
            <option value="14" {{if eq .Query.Days 14}}selected{{end}}>14 days</option>
            <option value="30" {{if eq .Query.Days 30}}selected{{end}}>30 days</option>
        </select>
    </label>
    <label>Verdict
        <select name="verdict">
            <option value="all" {{if eq .Query.Verdict "all"}}selected{{end}}>All</option>
            <option value="high" {{if eq .Query.Verdict "high"}}selected{{end}}>High</option>
            <option value="medium" {{if eq .Query.Verdict "medium"}}selected{{end}}>Medium</option>
            <option value="low" {{if eq .Query.Verdict "low"}}selected{{end}}>Low</option>
        </select>
    </label>
    <button type="submit">Apply</button>
</form>
<div class="card">
    <p class="muted">Since {{when .Since}}</p>
    {{template "orders" .Alerts}}
</div>
{{end}}`

const evidencePageHTML = `{{define "content"}}
<h1>Evidence for {{.Name}}</h1>
<div class="card">
    <p><span class="badge {{.Risk.Verdict.Tone}}">{{.Risk.Verdict.Label}}</span> Score {{.Risk.Score}}</p>
</div>
<div class="card">
    {{if .Risk.Scored}}
    <dl>
        <dt>Evidence reference</dt><dd>{{.EvidenceRef}}</dd>
        <dt>Engine version</dt><dd>{{.EngineVersion}}</dd>
        <dt>Scored at</dt><dd>{{when .Risk.ScoredAt}}</dd>
        <dt>Device seen</dt><dd>{{count .Risk.DeviceSeenCount}}</dd>
        <dt>Vault hits</dt><dd>{{count .Risk.VaultHits}}</dd>
    </dl>
    {{else}}
    <p class="muted">No evidence recorded.</p>
    {{end}}
</div>
<div class="card">
    <h2>Flags</h2>
    {{if .Risk.Reasons}}
    <ul>{{range .Risk.Reasons}}<li>{{.}}</li>{{end}}</ul>
    {{else}}
    <p class="muted">No flags recorded</p>
    {{end}}
</div>
<div class="card">
    <h2>Feedback</h2>
    {{if .Risk.FeedbackLabel}}
    <dl>
        <dt>Label</dt><dd>{{.Risk.FeedbackLabel}}</dd>
        <dt>Note</dt><dd>{{if .Risk.FeedbackNote}}{{.Risk.FeedbackNote}}{{else}}—{{end}}</dd>
        <dt>Next check</dt><dd>{{whenPtr .Risk.FeedbackNextCheckAt}}</dd>
    </dl>
    {{else}}
    <p class="muted">No feedback yet.</p>
    {{end}}
</div>
<p><a href="/app/orders/{{.ID}}">Order details</a> · <a href="{{.AdminURL}}" target="_top">Open in admin</a></p>
{{end}}`

const orderPageHTML = `{{define "content"}}
<h1>{{.Name}}</h1>
<div class="card">
    <dl>
        <dt>Created</dt><dd>{{when .CreatedAt}}</dd>
        <dt>Customer</dt><dd>{{if .Email}}{{.Email}}{{else}}—{{end}}</dd>
        <dt>Total</dt><dd>{{.Total}}</dd>
        <dt>Tags</dt><dd>{{range $i, $t := .Tags}}{{if $i}}, {{end}}{{$t}}{{else}}—{{end}}</dd>
        {{with .Shipping}}
        <dt>Ships to</dt><dd>{{.City}} {{.Province}} {{.Zip}} {{.Country}}</dd>
        {{end}}
    </dl>
</div>
<div class="card">
    <p><span class="badge {{.Risk.Verdict.Tone}}">{{.Risk.Verdict.Label}}</span> Score {{.Risk.Score}}</p>
    <p class="muted">{{summary .Risk.Reasons}}</p>
</div>
<p><a href="/app/evidence/{{.ID}}">Evidence</a> · <a href="{{.AdminURL}}" target="_top">Open in admin</a></p>
{{end}}`

const settingsPageHTML = `{{define "content"}}
<h1>Settings</h1>
<div class="card">
    <h2>Setup</h2>
    {{with .Definitions}}
    <p>Risk score fields: {{if .HaveScore}}ready{{else}}missing{{end}}</p>
    <p>Evidence fields: {{if .HaveEvidence}}ready{{else}}missing{{end}}</p>
    {{else}}
    <p class="muted">Setup status is unavailable right now.</p>
    {{end}}
</div>
<div class="card">
    <h2>Thresholds</h2>
    <dl>
        <dt>High at or above</dt><dd>{{.Settings.HighThreshold}}</dd>
        <dt>Medium at or above</dt><dd>{{.Settings.MediumThreshold}}</dd>
        <dt>Hold high risk orders</dt><dd>{{if .Settings.AutoHoldHigh}}On{{else}}Off{{end}}</dd>
    </dl>
</div>
<div class="card">
    <h2>Order tags</h2>
    <dl>
        <dt>Tag scored orders</dt><dd>{{if .Settings.AutoTagging}}On{{else}}Off{{end}}</dd>
        <dt>High</dt><dd>{{.Settings.TagHigh}}</dd>
        <dt>Medium</dt><dd>{{.Settings.TagMedium}}</dd>
        <dt>Low</dt><dd>{{.Settings.TagLow}}</dd>
    </dl>
</div>
<div class="card">
    <h2>Notifications</h2>
    <dl>
        <dt>Alert webhook</dt><dd>{{if .Settings.AlertWebhookURL}}{{.Settings.AlertWebhookURL}}{{else}}—{{end}}</dd>
        <dt>Signing secret</dt><dd>{{if .WebhookSecretSet}}configured{{else}}—{{end}}</dd>
    </dl>
</div>
{{end}}`
