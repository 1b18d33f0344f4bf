package repository

const insertSignal = `
INSERT INTO signals (
    id, symbol, timeframe,
    entry_open_time, entry_open, entry_high, entry_low, entry_close, entry_volume, entry_close_time,
    rules, created_at
) VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

// исход пишется только пока жив сигнал; повтор той же пары (signal, rule) игнорируется
const insertOutcome = `
INSERT INTO outcomes (signal_id, rule_id, result, target_price, stop_price, duration_ms, completed_at)
SELECT $1::uuid, $2, $3, $4, $5, $6, $7
WHERE EXISTS (SELECT 1 FROM signals WHERE id = $1::uuid)
ON CONFLICT (signal_id, rule_id) DO NOTHING`

const selectStaleSignals = `
SELECT s.id::text, s.symbol, s.timeframe,
       s.entry_open_time, s.entry_open, s.entry_high, s.entry_low, s.entry_close, s.entry_volume, s.entry_close_time,
       s.rules, s.created_at,
       COALESCE(array_agg(o.rule_id) FILTER (WHERE o.rule_id IS NOT NULL), '{}'::integer[]) AS resolved
FROM signals s
LEFT JOIN outcomes o ON o.signal_id = s.id
WHERE s.created_at < $1
GROUP BY s.id
HAVING count(o.rule_id) < jsonb_array_length(s.rules)
ORDER BY s.created_at`

const deleteOutcomes = `DELETE FROM outcomes WHERE signal_id = $1::uuid`

const deleteSignal = `DELETE FROM signals WHERE id = $1::uuid`
