package api

import (
	"net/http"
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(indexHTML))
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Medical Video Object Detection</title>
    <style>
        * { box-sizing: border-box; }
        body {
            margin: 0;
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background-color: #001F3D;
            color: white;
            display: flex;
            min-height: 100vh;
        }
        h1, h2, h3 { color: #2ECC71; }
        .sidebar {
            width: 280px;
            padding: 24px;
            background: #002B54;
        }
        .sidebar label { color: #2ECC71; font-weight: bold; display: block; margin: 18px 0 8px; }
        .sidebar input[type=range] { width: 100%; accent-color: #2ECC71; }
        .sidebar input[type=checkbox] { accent-color: #2ECC71; width: 18px; height: 18px; }
        .credit { color: #2ECC71; font-weight: bold; margin-top: 40px; }
        .main { flex: 1; padding: 24px 40px; }
        button, .file-label {
            background-color: #003366;
            color: white;
            font-weight: bold;
            border: none;
            border-radius: 10px;
            padding: 10px 18px;
            cursor: pointer;
        }
        button:hover, .file-label:hover { background-color: #2ECC71; }
        button:disabled { opacity: 0.5; cursor: default; }
        .alert {
            background-color: #003366;
            color: white;
            padding: 12px 16px;
            border-radius: 8px;
            margin: 16px 0;
        }
        .alert.warn { border-left: 4px solid #f1c40f; }
        .alert:empty { display: none; }
        #display { width: 100%; margin-top: 16px; border-radius: 8px; background: #000; }
        .stats { color: #9fb3c8; font-size: 13px; margin-top: 8px; }
    </style>
</head>
<body>
    <div class="sidebar">
        <h1>Settings</h1>
        <label for="threshold">Confidence Threshold: <span id="threshold-value">0.97</span></label>
        <input type="range" id="threshold" min="0" max="1" step="0.01" value="0.97">
        <label for="boxes">Show Bounding Boxes</label>
        <input type="checkbox" id="boxes" checked>
        <p class="credit">Real-time detection of surgical equipment in uploaded video.</p>
    </div>
    <div class="main">
        <h1>YOLOv8 Medical Video Object Detection</h1>
        <form id="upload-form">
            <input type="file" id="file" name="video" accept=".mp4,video/mp4" hidden>
            <label for="file" class="file-label">Browse File</label>
            <span id="file-name"></span>
            <button type="button" id="replay" disabled>Replay Video</button>
        </form>
        <div id="prompt" class="alert"></div>
        <div id="warning" class="alert warn"></div>
        <img id="display" src="/stream" alt="">
        <div class="stats" id="stats"></div>
    </div>
    <script>
        const threshold = document.getElementById('threshold');
        const thresholdValue = document.getElementById('threshold-value');
        const boxes = document.getElementById('boxes');
        const fileInput = document.getElementById('file');
        const replay = document.getElementById('replay');

        function putSettings(patch) {
            fetch('/api/settings', {
                method: 'PUT',
                headers: {'Content-Type': 'application/json'},
                body: JSON.stringify(patch)
            });
        }

        threshold.addEventListener('input', () => {
            thresholdValue.textContent = Number(threshold.value).toFixed(2);
        });
        threshold.addEventListener('change', () => {
            putSettings({confidence_threshold: Number(threshold.value)});
        });
        boxes.addEventListener('change', () => putSettings({show_boxes: boxes.checked}));

        fileInput.addEventListener('change', async () => {
            if (!fileInput.files.length) return;
            document.getElementById('file-name').textContent = fileInput.files[0].name;
            const body = new FormData();
            body.append('video', fileInput.files[0]);
            const resp = await fetch('/api/upload', {method: 'POST', body});
            if (!resp.ok) {
                const data = await resp.json();
                document.getElementById('warning').textContent = data.error || data.prompt || '';
            }
        });

        replay.addEventListener('click', () => fetch('/api/replay', {method: 'POST'}));

        function render(st) {
            document.getElementById('prompt').textContent = st.prompt || '';
            document.getElementById('warning').textContent = st.warning || st.error || '';
            replay.disabled = st.state !== 'done';
            if (document.activeElement !== threshold) {
                threshold.value = st.settings.confidence_threshold;
                thresholdValue.textContent = st.settings.confidence_threshold.toFixed(2);
            }
            boxes.checked = st.settings.show_boxes;
            document.getElementById('stats').textContent =
                st.state + ' | frames: ' + st.frames + ' | detections: ' + st.detections;
        }

        function connect() {
            const proto = location.protocol === 'https:' ? 'wss' : 'ws';
            const ws = new WebSocket(proto + '://' + location.host + '/api/status/stream');
            ws.onmessage = (ev) => render(JSON.parse(ev.data));
            ws.onclose = () => setTimeout(connect, 2000);
        }

        fetch('/api/status').then(r => r.json()).then(render);
        connect();
    </script>
</body>
</html>`
