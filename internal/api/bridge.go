package api

import "net/http"

// bridgePage relays a first-party visitor id to embedding pages through
// postMessage. The id lives in this origin's localStorage.
const bridgePage = `<!doctype html><html><head><meta charset="utf-8"></head><body>
<script>
(function(){
  var KEY="fg_global_vid";
  function gen(){
    try { if (crypto && crypto.randomUUID) { return crypto.randomUUID(); } } catch(e) {}
    return "g_"+Math.random().toString(16).slice(2)+Date.now().toString(16);
  }
  function get(){
    try {
      var v=localStorage.getItem(KEY);
      if(!v){ v=gen(); localStorage.setItem(KEY,v); }
      return v;
    } catch(e) {
      return gen();
    }
  }
  window.addEventListener("message", function(ev){
    if(ev && ev.data && ev.data.type==="fg_vid_req"){
      parent.postMessage({type:"fg_vid", vid:get()}, ev.origin || "*");
    }
  });
})();
</script></body></html>`

func handleBridge(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write([]byte(bridgePage))
}
