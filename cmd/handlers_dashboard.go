package main

import (
	"github.com/gin-gonic/gin"
)

// handleDashboard 只读的统计页面，数据来自 /stats 与 /health
func handleDashboard() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Data(200, "text/html; charset=utf-8", []byte(DashboardHTML))
	}
}

// DashboardHTML 统计页面
const DashboardHTML = `<!DOCTYPE html>
<html lang="ja">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Gemini Relay</title>
    <script src="https://cdn.tailwindcss.com"></script>
</head>
<body class="bg-gray-50 text-gray-800">
    <div class="max-w-5xl mx-auto p-6">
        <div class="flex items-center justify-between mb-6">
            <h1 class="text-2xl font-bold">Gemini Relay</h1>
            <button onclick="refresh()" class="px-4 py-2 bg-blue-600 text-white rounded hover:bg-blue-700">Refresh</button>
        </div>

        <div id="health" class="grid grid-cols-3 gap-4 mb-6"></div>

        <h2 class="text-lg font-semibold mb-2">Models</h2>
        <table class="w-full bg-white shadow rounded mb-6 text-sm">
            <thead class="bg-gray-100">
                <tr><th class="p-2 text-left">Model</th><th class="p-2">Success</th><th class="p-2">Error</th><th class="p-2">Avg latency (ms)</th><th class="p-2">Total</th></tr>
            </thead>
            <tbody id="models"></tbody>
        </table>

        <h2 class="text-lg font-semibold mb-2">Recent attempts</h2>
        <table class="w-full bg-white shadow rounded text-sm">
            <thead class="bg-gray-100">
                <tr><th class="p-2 text-left">Time</th><th class="p-2">Kind</th><th class="p-2">Model</th><th class="p-2">Key</th><th class="p-2">Result</th><th class="p-2">ms</th></tr>
            </thead>
            <tbody id="recent"></tbody>
        </table>
    </div>

    <script>
        function cell(text, cls) {
            const td = document.createElement('td');
            td.className = 'p-2 ' + (cls || 'text-center');
            td.textContent = text;
            return td;
        }

        function row(values) {
            const tr = document.createElement('tr');
            tr.className = 'border-t';
            values.forEach((v, i) => tr.appendChild(cell(v, i === 0 ? 'text-left' : '')));
            return tr;
        }

        async function refresh() {
            const [health, stats] = await Promise.all([
                fetch('/health').then(r => r.json()),
                fetch('/stats').then(r => r.json()),
            ]);

            const h = document.getElementById('health');
            h.innerHTML = '';
            [['Status', health.status], ['Credentials', health.credentials], ['Driver', health.driver]].forEach(([k, v]) => {
                const div = document.createElement('div');
                div.className = 'bg-white shadow rounded p-4';
                div.innerHTML = '<div class="text-xs text-gray-500"></div><div class="text-xl font-bold"></div>';
                div.children[0].textContent = k;
                div.children[1].textContent = v;
                h.appendChild(div);
            });

            const m = document.getElementById('models');
            m.innerHTML = '';
            stats.models.forEach(s => m.appendChild(row([s.model, s.success, s.error, s.avg_latency.toFixed(0), s.total_requests])));

            const r = document.getElementById('recent');
            r.innerHTML = '';
            stats.recent.forEach(l => r.appendChild(row([
                new Date(l.created_at).toLocaleString(), l.kind, l.model, l.key_prefix,
                l.success ? 'ok' : (l.error_msg || 'error'), l.duration,
            ])));
        }

        refresh();
    </script>
</body>
</html>`
