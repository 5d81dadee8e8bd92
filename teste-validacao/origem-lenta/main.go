package main

// Origem falsa para testes manuais: serve um feed RSS e loga cada acesso, para
// conferir que a soma das chamadas de vários fetch-workers respeita a cota.

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

func main() {
	var hits int64
	start := time.Now()

	http.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&hits, 1)
		elapsed := time.Since(start).Seconds()
		time.Sleep(200 * time.Millisecond)

		w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
		fmt.Fprintf(w, `<?xml version="1.0"?><rss version="2.0"><channel><title>origem-lenta</title><item><title>item %d</title></item></channel></rss>`, n)
		fmt.Printf("Log: acesso #%d em %.1fs (%.2f req/min)\n", n, elapsed, float64(n)/elapsed*60)
	})
	fmt.Println("Origem rodando em http://localhost:8082/feed.xml")
	err := http.ListenAndServe(":8082", nil)
	if err != nil {
		fmt.Printf("Erro ao subir o servidor: %s\n", err)
	}
}
