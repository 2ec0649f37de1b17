// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go        — Handler с DI (caller, logger)
//   - routes.go         — роутер chi и маршруты
//   - middleware.go     — middleware (logging, recovery)
//   - response.go       — унифицированные JSON-ответы с ошибкой
//   - dto.go            — разбор тела /ingest и формат ответа
//   - ingest_handler.go — POST /ingest, GET /healthz
//
// POST /ingest синхронный: запрос держится открытым, пока воркер не
// ответит через очередь или не истечёт таймаут RPC.
package api
