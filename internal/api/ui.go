package api

import (
	"net/http"
)

const operatorUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>SentientLock - Operator Console</title>
    <style>
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body {
            font-family: monospace;
            background: #1a1a2e;
            color: #eee;
            height: 100vh;
            display: flex;
            flex-direction: column;
        }
        header {
            background: #16213e;
            padding: 12px 20px;
            border-bottom: 1px solid #0f3460;
            display: flex;
            justify-content: space-between;
            align-items: center;
        }
        header h1 { font-size: 16px; font-weight: normal; }
        #status { padding: 4px 10px; border-radius: 4px; font-size: 12px; }
        #status.connected { background: #1b4332; color: #95d5b2; }
        #status.disconnected { background: #7f1d1d; color: #fca5a5; }
        #status.connecting { background: #78350f; color: #fcd34d; }
        main { flex: 1; overflow: hidden; display: flex; }
        #locks { width: 50%; overflow-y: auto; padding: 10px; border-right: 1px solid #0f3460; }
        #events { flex: 1; overflow-y: auto; padding: 10px; }
        .lock {
            padding: 10px 12px;
            margin-bottom: 6px;
            background: #16213e;
            border-radius: 4px;
            border-left: 3px solid #dc2626;
            font-size: 13px;
        }
        .lock.open { border-left-color: #059669; }
        .lock .row { display: flex; gap: 12px; align-items: baseline; margin-bottom: 4px; }
        .lock .id { color: #a78bfa; font-weight: bold; min-width: 120px; }
        .lock .state { color: #60a5fa; }
        .lock .seq { color: #fcd34d; letter-spacing: 2px; }
        .lock .target { color: #6b7280; letter-spacing: 2px; }
        .lock button { margin-right: 6px; }
        .event {
            padding: 6px 10px;
            margin-bottom: 4px;
            background: #16213e;
            border-radius: 4px;
            border-left: 3px solid #0f3460;
            font-size: 12px;
            display: flex;
            gap: 12px;
            align-items: baseline;
        }
        .event.level-error { border-left-color: #dc2626; background: #1f1515; }
        .event.scope-lock { border-left-color: #7c3aed; }
        .event.scope-peer { border-left-color: #d97706; }
        .event.scope-operator { border-left-color: #db2777; }
        .ts { color: #6b7280; font-size: 11px; min-width: 90px; }
        .name { color: #60a5fa; font-weight: bold; min-width: 160px; }
        .msg { color: #9ca3af; }
        button {
            background: #0f3460;
            color: #eee;
            border: 1px solid #1f4f8a;
            border-radius: 3px;
            padding: 3px 10px;
            font-family: monospace;
            cursor: pointer;
        }
        button:hover { background: #1f4f8a; }
        footer {
            background: #16213e;
            padding: 8px 20px;
            border-top: 1px solid #0f3460;
            font-size: 11px;
            color: #6b7280;
        }
    </style>
</head>
<body>
    <header>
        <h1>SentientLock</h1>
        <span id="status" class="connecting">connecting</span>
    </header>
    <main>
        <div id="locks"></div>
        <div id="events"></div>
    </main>
    <footer>
        <span id="head">seq 0</span> | <span id="count">0</span> events | WebSocket: /ws/events
    </footer>
    <script>
        const arrows = { left: '←', right: '→', up: '↑', down: '↓' };
        const locksEl = document.getElementById('locks');
        const eventsEl = document.getElementById('events');
        const statusEl = document.getElementById('status');
        let count = 0;
        let ws = null;

        function seq(dirs) {
            return (dirs || []).map(d => arrows[d] || '?').join(' ') || '-';
        }

        function renderLocks(locks) {
            locksEl.innerHTML = '';
            for (const l of locks) {
                const div = document.createElement('div');
                div.className = 'lock' + (l.state === 'unlocked' ? ' open' : '');
                div.innerHTML =
                    '<div class="row"><span class="id"></span><span class="state"></span><span class="res"></span></div>' +
                    '<div class="row">entered <span class="seq"></span></div>' +
                    '<div class="row">target <span class="target"></span></div>' +
                    '<div class="row">operators <span class="ops"></span></div>';
                div.querySelector('.id').textContent = l.id;
                div.querySelector('.state').textContent = l.state;
                div.querySelector('.res').textContent = l.resolution;
                div.querySelector('.seq').textContent = seq(l.current);
                div.querySelector('.target').textContent = seq(l.target);
                div.querySelector('.ops').textContent = (l.operators || []).join(', ');

                const ov = document.createElement('button');
                ov.textContent = 'override';
                ov.onclick = () => operator('/operator/override', l.id);
                const cl = document.createElement('button');
                cl.textContent = 'close';
                cl.onclick = () => operator('/operator/close', l.id);
                div.appendChild(ov);
                div.appendChild(cl);
                locksEl.appendChild(div);
            }
        }

        function refresh() {
            fetch('/operator/puzzles')
                .then(r => r.ok ? r.json() : [])
                .then(renderLocks)
                .catch(() => {});
            fetch('/log/head')
                .then(r => r.json())
                .then(h => { document.getElementById('head').textContent = 'seq ' + h.seq; })
                .catch(() => {});
        }

        function operator(path, id) {
            fetch(path, {
                method: 'POST',
                headers: { 'Content-Type': 'application/json' },
                body: JSON.stringify({ puzzle_id: id })
            })
                .then(r => r.json())
                .then(res => { if (!res.ok) alert(res.error || 'request failed'); refresh(); })
                .catch(err => alert(err));
        }

        function addEvent(e) {
            const div = document.createElement('div');
            const scope = (e.event || '').split('.')[0];
            div.className = 'event level-' + e.level + ' scope-' + scope;
            const ts = document.createElement('span');
            ts.className = 'ts';
            ts.textContent = new Date(e.ts).toLocaleTimeString();
            const name = document.createElement('span');
            name.className = 'name';
            name.textContent = e.event;
            const msg = document.createElement('span');
            msg.className = 'msg';
            const f = e.fields || {};
            msg.textContent = (f.puzzle_id ? f.puzzle_id + ' ' : '') + (e.msg || '');
            div.appendChild(ts);
            div.appendChild(name);
            div.appendChild(msg);
            eventsEl.insertBefore(div, eventsEl.firstChild);
            document.getElementById('count').textContent = ++count;
            if (scope === 'lock' || scope === 'operator') refresh();
        }

        function connect() {
            if (ws && ws.readyState === WebSocket.OPEN) return;
            statusEl.className = 'connecting';
            statusEl.textContent = 'connecting';
            const protocol = location.protocol === 'https:' ? 'wss:' : 'ws:';
            ws = new WebSocket(protocol + '//' + location.host + '/ws/events');
            ws.onopen = function() {
                statusEl.className = 'connected';
                statusEl.textContent = 'connected';
            };
            ws.onmessage = function(msg) {
                try { addEvent(JSON.parse(msg.data)); } catch (e) {}
            };
            ws.onclose = function() {
                statusEl.className = 'disconnected';
                statusEl.textContent = 'disconnected';
                setTimeout(connect, 2000);
            };
            ws.onerror = function() { ws.close(); };
        }

        refresh();
        setInterval(refresh, 5000);
        connect();
    </script>
</body>
</html>
`

// uiHandler serves the operator console at the root path only.
func uiHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(operatorUIHTML))
}
