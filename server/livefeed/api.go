package livefeed

import (
	"net/http"
	"strconv"

	"github.com/cyclopcam/syncdetect/pkg/sensor"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

func (f *LiveFeed) httpStatus(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.CacheNever(w)
	if f.opt.Status == nil {
		www.SendJSON(w, map[string]any{})
		return
	}
	www.SendJSON(w, f.opt.Status())
}

// Example: curl localhost:8090/api/detections/recent?n=10
func (f *LiveFeed) httpRecent(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	n := www.QueryInt(r, "n")
	if n < 0 {
		www.PanicBadRequestf("n may not be negative")
	}
	www.CacheNever(w)
	www.SendJSON(w, f.Recent(n))
}

// Fetch a JPG of the most recent annotated frame.
// Example: curl -o img.jpg localhost:8090/api/image/latest
func (f *LiveFeed) httpLatestImage(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	f.lock.Lock()
	img := f.latestImage
	header := f.latestHeader
	f.lock.Unlock()
	if img == nil {
		www.PanicBadRequestf("No image available yet")
	}

	www.CacheNever(w)
	jpg, err := sensor.EncodeJPEG(header, img, f.opt.JPEGQuality)
	www.Check(err)
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("X-Frame-Seq", strconv.FormatUint(uint64(jpg.Header.Seq), 10))
	w.Write(jpg.Data)
}

// Example: curl localhost:8090/api/history?limit=50
func (f *LiveFeed) httpHistory(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	limit := www.QueryInt(r, "limit")
	result, err := f.opt.History(limit)
	www.Check(err)
	www.CacheNever(w)
	www.SendJSON(w, result)
}

func (f *LiveFeed) httpWebSocket(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.Errorf("Websocket upgrade failed: %v", err)
		return
	}
	f.runClient(conn)
}
