// Package notify публикует уведомления о найденных аномалиях в NATS.
//
// Уведомление — JSON записи AnomalyRecord в subject anomalix.anomaly.detected.
// Доставка best effort: воркер не ждёт подписчиков и не повторяет публикацию.
package notify
