package sandbox

// prelude emulates the slice of the browser page environment the shims
// touch: window events, virtual timers, MutationObserver, navigator,
// screen, a minimal document and the two storage areas.
const prelude = `
var window = this;
(function (g) {
  var sb = { events: [], timers: [], now: 0, seq: 0, observers: [] };
  var listeners = {};
  g.__sandbox = sb;

  g.addEventListener = function (type, fn) {
    (listeners[type] = listeners[type] || []).push(fn);
  };
  g.removeEventListener = function (type, fn) {
    listeners[type] = (listeners[type] || []).filter(function (f) { return f !== fn; });
  };
  g.dispatchEvent = function (ev) {
    sb.events.push(ev.type);
    (listeners[ev.type] || []).slice().forEach(function (fn) { fn(ev); });
    return true;
  };
  g.Event = function (type) { this.type = type; };

  function schedule(fn, ms, every) {
    var id = ++sb.seq;
    sb.timers.push({ id: id, due: sb.now + (ms || 0), fn: fn, every: every ? (ms || 1) : 0 });
    return id;
  }
  g.setTimeout = function (fn, ms) { return schedule(fn, ms, false); };
  g.setInterval = function (fn, ms) { return schedule(fn, ms, true); };
  g.clearTimeout = g.clearInterval = function (id) {
    sb.timers = sb.timers.filter(function (t) { return t.id !== id; });
  };
  sb.advance = function (ms) {
    var target = sb.now + ms;
    for (;;) {
      sb.timers.sort(function (a, b) { return a.due - b.due || a.id - b.id; });
      var t = sb.timers[0];
      if (!t || t.due > target) { break; }
      sb.timers.shift();
      sb.now = t.due;
      if (t.every) {
        t.due += t.every;
        sb.timers.push(t);
      }
      t.fn();
    }
    sb.now = target;
  };

  g.MutationObserver = function (cb) {
    this.cb = cb;
    this.target = null;
    sb.observers.push(this);
  };
  g.MutationObserver.prototype.observe = function (target, opts) {
    this.target = target;
    this.opts = opts;
  };
  g.MutationObserver.prototype.disconnect = function () { this.target = null; };
  sb.mutate = function () {
    sb.observers.forEach(function (o) { if (o.target) { o.cb([], o); } });
  };

  g.navigator = { userAgent: __config.userAgent };
  g.screen = {
    width: __config.screenWidth,
    height: __config.screenHeight,
    availWidth: __config.screenWidth,
    availHeight: __config.screenHeight
  };
  g.innerWidth = __config.screenWidth;
  g.innerHeight = __config.screenHeight;
  g.outerWidth = __config.screenWidth;
  g.outerHeight = __config.screenHeight;

  function element(tag) {
    return {
      tagName: String(tag).toUpperCase(),
      attributes: {},
      children: [],
      textContent: "",
      setAttribute: function (k, v) { this.attributes[k] = String(v); },
      getAttribute: function (k) {
        return Object.prototype.hasOwnProperty.call(this.attributes, k) ? this.attributes[k] : null;
      },
      appendChild: function (c) { this.children.push(c); return c; }
    };
  }
  var head = element("head");
  var body = element("body");
  g.document = {
    head: head,
    body: body,
    documentElement: element("html"),
    createElement: element,
    addEventListener: function () {},
    querySelector: function (sel) {
      if (sel === 'meta[name="viewport"]') {
        for (var i = 0; i < head.children.length; i++) {
          var c = head.children[i];
          if (c.tagName === "META" && c.name === "viewport") { return c; }
        }
      }
      return null;
    },
    querySelectorAll: function () { return []; }
  };

  function area() {
    var data = {};
    return {
      getItem: function (k) { return Object.prototype.hasOwnProperty.call(data, k) ? data[k] : null; },
      setItem: function (k, v) { data[String(k)] = String(v); },
      removeItem: function (k) { delete data[String(k)]; },
      clear: function () { data = {}; }
    };
  }
  g.localStorage = area();
  g.sessionStorage = area();
})(this);
`
