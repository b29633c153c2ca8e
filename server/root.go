package server

const rootDocument = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Registry Exporter</title>
</head>
<body>
<h1>Registry Exporter</h1>
<p>Metrics for the objects in the registry are available at <a href="/metrics">/metrics</a>.</p>
<ul>
<li><a href="/metrics?x-accept=text/plain">Prometheus text format</a> (<a href="/metrics?x-accept=text/plain&amp;help=false">without help</a>)</li>
<li><a href="/metrics?x-accept=application/json">JSON</a></li>
<li><a href="/metrics?x-accept=text/html">HTML</a></li>
<li><a href="/healthz">Health</a></li>
<li><a href="/exporter/metrics">Exporter metrics</a></li>
</ul>
</body>
</html>
`
