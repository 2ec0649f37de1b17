// Package cli реализует инструмент командной строки Anomalix.
//
// # Обзор
//
// CLI отправляет события на оценку и показывает ответ воркера. Путей три:
//   - ingest — через HTTP API (POST /ingest), как обычный клиент
//   - send   — напрямую в рабочую очередь RabbitMQ, минуя API
//   - watch  — поток уведомлений об аномалиях из NATS
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Anomalix API. Ответ с HTTP статусом >= 400
// возвращается как *APIError.
//
//	client := cli.NewClient("http://localhost:8080")
//	resp, err := client.Ingest(ctx, event)
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: anomalix ingest -f e.json --json | jq .
//
// ## Commands
//
// Событие берётся из --file (или stdin) либо собирается из флагов;
// пустые RequestID и EventID заполняются случайными UUID.
// Зависимости (Client, брокер, NATS) передаются фабричными функциями
// и создаются лениво, после парсинга PersistentFlags.
package cli
