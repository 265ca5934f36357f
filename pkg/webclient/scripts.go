package webclient

const bindingName = "__wagwInbound"

// probeScript reports the pairing code reference and whether the chat list
// has rendered.
const probeScript = `() => {
  const qr = document.querySelector('div[data-ref]');
  return {
    ref: qr ? (qr.getAttribute('data-ref') || '') : '',
    ready: !!document.querySelector('#pane-side'),
  };
}`

// observerScript runs on every document load. It reports incoming message
// bubbles once per data-id; ids are remembered in localStorage so history
// re-rendered after a navigation is not reported again.
const observerScript = `() => {
  const KEY = '__wagwSeen';
  const MAX = 500;
  let seen = [];
  try { seen = JSON.parse(localStorage.getItem(KEY) || '[]'); } catch (e) { seen = []; }
  const known = new Set(seen);

  const remember = (id) => {
    known.add(id);
    seen.push(id);
    if (seen.length > MAX) { known.delete(seen.shift()); }
    try { localStorage.setItem(KEY, JSON.stringify(seen)); } catch (e) {}
  };

  const report = (el) => {
    const holder = el.closest('[data-id]');
    if (!holder) return;
    const id = holder.getAttribute('data-id');
    if (!id || known.has(id)) return;
    remember(id);
    const parts = id.split('_');
    const text = el.querySelector('span.selectable-text');
    const fn = window['` + bindingName + `'];
    if (typeof fn === 'function') {
      fn({ id: id, from: parts.length > 1 ? parts[1] : '', body: text ? text.innerText : '' });
    }
  };

  const scan = (node) => {
    if (!(node instanceof Element)) return;
    if (node.matches('div.message-in')) report(node);
    node.querySelectorAll('div.message-in').forEach(report);
  };

  const start = () => {
    new MutationObserver((mutations) => {
      mutations.forEach((m) => m.addedNodes.forEach(scan));
    }).observe(document.body, { childList: true, subtree: true });
  };

  if (document.body) { start(); } else { document.addEventListener('DOMContentLoaded', start); }
}`

// clearStorageScript drops the web client's local credentials.
const clearStorageScript = `() => {
  try { localStorage.clear(); } catch (e) {}
  try { sessionStorage.clear(); } catch (e) {}
  if (indexedDB && indexedDB.databases) {
    return indexedDB.databases().then((dbs) => {
      dbs.forEach((db) => indexedDB.deleteDatabase(db.name));
      return true;
    });
  }
  return true;
}`

const qrCanvasSelector = `div[data-ref] canvas`

const sendButtonSelector = `span[data-icon="send"]`
