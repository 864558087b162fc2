package intake

// formHTML is the mobile submission form served at GET /. It posts to the
// JSON API with the shared secret the browser remembers in localStorage.
const formHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Foundry · New Task</title>
<style>
  * { box-sizing: border-box; margin: 0; padding: 0; }
  body {
    font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
    background: #0f172a; color: #e2e8f0; padding: 20px; min-height: 100vh;
  }
  .container { max-width: 500px; margin: 0 auto; }
  h1 { font-size: 24px; margin-bottom: 4px; color: #38bdf8; }
  .subtitle { font-size: 14px; color: #94a3b8; margin-bottom: 24px; }
  label { display: block; font-size: 14px; font-weight: 600; margin-bottom: 6px; color: #cbd5e1; }
  input, textarea, select {
    width: 100%; padding: 12px; border: 1px solid #334155; border-radius: 8px;
    background: #1e293b; color: #e2e8f0; font-size: 16px; margin-bottom: 16px;
    -webkit-appearance: none;
  }
  input:focus, textarea:focus, select:focus {
    outline: none; border-color: #38bdf8; box-shadow: 0 0 0 3px rgba(56, 189, 248, 0.15);
  }
  textarea { min-height: 120px; resize: vertical; }
  .row { display: flex; gap: 12px; }
  .row > div { flex: 1; }
  button {
    width: 100%; padding: 14px; border: none; border-radius: 8px;
    background: #38bdf8; color: #0f172a; font-size: 16px; font-weight: 700;
    cursor: pointer; margin-top: 8px;
  }
  button:active { background: #0ea5e9; }
  button:disabled { opacity: 0.5; cursor: not-allowed; }
  .banner { border-radius: 8px; padding: 16px; margin-bottom: 16px; display: none; }
  .success { background: #065f46; border: 1px solid #10b981; }
  .success h3 { color: #34d399; margin-bottom: 4px; }
  .error { background: #7f1d1d; border: 1px solid #ef4444; }
  .stats {
    background: #1e293b; border-radius: 8px; padding: 16px; margin-top: 24px;
    border: 1px solid #334155;
  }
  .stats-grid { display: grid; grid-template-columns: repeat(2, 1fr); gap: 12px; }
  .stat-item { text-align: center; }
  .stat-value { font-size: 24px; font-weight: 700; color: #38bdf8; }
  .stat-label { font-size: 12px; color: #94a3b8; }
</style>
</head>
<body>
<div class="container">
  <h1>New Task</h1>
  <p class="subtitle">Foundry task pipeline</p>

  <div id="success" class="banner success">
    <h3>Task Queued</h3>
    <p id="success-msg"></p>
  </div>
  <div id="error" class="banner error">
    <p id="error-msg"></p>
  </div>

  <form id="taskForm">
    <label for="title">What needs to happen?</label>
    <input type="text" id="title" name="title" placeholder="e.g. Add rate limiting to the API" required>

    <label for="description">Details</label>
    <textarea id="description" name="description" placeholder="Describe what you want built, changed, or fixed..."></textarea>

    <div class="row">
      <div>
        <label for="priority">Priority</label>
        <select id="priority" name="priority">
          <option value="medium" selected>Medium</option>
          <option value="low">Low</option>
          <option value="high">High</option>
          <option value="urgent">Urgent</option>
        </select>
      </div>
      <div>
        <label for="trust_level">Trust Level</label>
        <select id="trust_level" name="trust_level">
          <option value="full_auto" selected>Full Auto (ship it)</option>
          <option value="preview_only">Preview Only</option>
          <option value="plan_only">Plan Only</option>
        </select>
      </div>
    </div>

    <label for="context">Extra Context (optional)</label>
    <textarea id="context" name="context" style="min-height:60px" placeholder="Links, file paths, references..."></textarea>

    <button type="submit" id="submitBtn">Queue Task</button>
  </form>

  <div class="stats" id="stats"></div>
</div>

<script>
const SECRET = localStorage.getItem('foundry_secret') || prompt('Enter intake secret:');
if (SECRET) localStorage.setItem('foundry_secret', SECRET);

document.getElementById('taskForm').addEventListener('submit', async (e) => {
  e.preventDefault();
  const btn = document.getElementById('submitBtn');
  btn.disabled = true;
  btn.textContent = 'Queuing...';

  try {
    const body = {
      title: document.getElementById('title').value,
      description: document.getElementById('description').value,
      priority: document.getElementById('priority').value,
      trust_level: document.getElementById('trust_level').value,
      context: document.getElementById('context').value,
    };
    const res = await fetch('/api/tasks', {
      method: 'POST',
      headers: { 'Content-Type': 'application/json', 'Authorization': 'Bearer ' + SECRET },
      body: JSON.stringify(body)
    });
    const data = await res.json();
    if (res.ok) {
      document.getElementById('success').style.display = 'block';
      document.getElementById('success-msg').textContent = '"' + body.title + '" queued (' + body.priority + ')';
      document.getElementById('error').style.display = 'none';
      document.getElementById('taskForm').reset();
    } else {
      throw new Error(data.error || 'Failed');
    }
  } catch (err) {
    document.getElementById('error').style.display = 'block';
    document.getElementById('error-msg').textContent = err.message;
    document.getElementById('success').style.display = 'none';
  }
  btn.disabled = false;
  btn.textContent = 'Queue Task';
});

(async () => {
  try {
    const res = await fetch('/api/stats', { headers: { 'Authorization': 'Bearer ' + SECRET } });
    const data = await res.json();
    document.getElementById('stats').innerHTML =
      '<div class="stats-grid">' +
      '<div class="stat-item"><div class="stat-value">' + data.done + '</div><div class="stat-label">Done Today</div></div>' +
      '<div class="stat-item"><div class="stat-value">' + data.queued + '</div><div class="stat-label">Queued</div></div>' +
      '<div class="stat-item"><div class="stat-value">' + data.in_progress + '</div><div class="stat-label">In Progress</div></div>' +
      '<div class="stat-item"><div class="stat-value">' + data.failed + '</div><div class="stat-label">Failed</div></div>' +
      '</div>';
  } catch (e) {}
})();
</script>
</body>
</html>`
