// Package worker обрабатывает события из рабочей очереди.
//
// # Обзор
//
// Worker — stateless потребитель очереди anomaly_events. На каждое
// сообщение он отправляет ровно один ответ в очередь, указанную в reply-to:
//
//	Received → Deduped ─────────────────→ 200 (уже обработано, сохранённая оценка)
//	         ↘ Scored → Inserted ───────→ 201 (аномалия сохранена) | 500 (ошибка вставки)
//	                  ↘ Skipped ────────→ 204 (оценка не выше порога)
//
// Выбор ответа — единственная функция Process. Ошибка Process означает
// «ответа пока нет»: сообщение возвращается в очередь, а после исчерпания
// MaxRedeliveries отправитель получает 500 и сообщение уходит в DLQ.
//
// # Использование
//
//	w := worker.New(worker.Config{
//	    Store:     repo.NewAnomalyRepo(pool),
//	    Scorer:    worker.RandomScorer{},
//	    Notifier:  notifier,
//	    Conn:      mqConn,
//	    Threshold: 0.5,
//	    Logger:    logger,
//	})
//
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
//
// # Подтверждение
//
// Сообщение подтверждается после отправки ответа. Падение воркера между
// вставкой и ack приводит к повторной доставке, которую dedup превращает
// в ответ 200.
//
// # Повторы
//
// Проверка существования события идемпотентна и повторяется по RetryPolicy
// (exponential или fixed backoff). Вставка не повторяется: конфликт
// уникальности разрешается как dedup, прочие ошибки дают ответ 500.
// Каждый внешний вызов ограничен CallTimeout.
package worker
