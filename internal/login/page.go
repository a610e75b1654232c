package login

const disabledPage = `<!doctype html>
<html>
  <head><meta charset="utf-8" /><title>Login disabled</title></head>
  <body>
    <h3>APP_PASSKEY is not set</h3>
    <p>Set APP_PASSKEY to enable login protection.</p>
  </body>
</html>`

const loginPage = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>Login</title>
    <style>
      body { font-family: system-ui, sans-serif; max-width: 520px; margin: 10vh auto; padding: 0 16px; }
      input, button { font-size: 16px; padding: 10px 12px; width: 100%; box-sizing: border-box; }
      button { margin-top: 12px; cursor: pointer; }
      .err { color: #b00020; margin-top: 10px; white-space: pre-wrap; }
    </style>
  </head>
  <body>
    <h2>API2Web</h2>
    <p>Enter passkey to continue.</p>
    <form id="login">
      <input id="passkey" type="password" autocomplete="current-password" placeholder="Passkey" autofocus />
      <button type="submit">Login</button>
    </form>
    <div id="err" class="err"></div>
    <script>
      const form = document.getElementById('login');
      const pass = document.getElementById('passkey');
      const err = document.getElementById('err');
      form.addEventListener('submit', async (e) => {
        e.preventDefault();
        err.textContent = '';
        try {
          const r = await fetch('/auth/login', {
            method: 'POST',
            headers: { 'content-type': 'application/json' },
            body: JSON.stringify({ passkey: pass.value || '' })
          });
          const data = await r.json().catch(() => ({}));
          if (!r.ok) throw new Error(data?.error?.message || ('HTTP ' + r.status));
          location.href = '/';
        } catch (ex) {
          err.textContent = String(ex?.message || ex);
        }
      });
    </script>
  </body>
</html>`
