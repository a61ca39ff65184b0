package db

// SchemaSQL contains the database schema initialization SQL.
const SchemaSQL = `
    -- ==========================================================================
    -- SESSION TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS session SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS name ON session TYPE string;
    DEFINE FIELD IF NOT EXISTS created_at ON session TYPE datetime DEFAULT time::now();

    -- ==========================================================================
    -- LOG TABLE (reasoning-trace records)
    -- ==========================================================================
    -- Records are either flat (query/reasoning/answer) or multi-turn (messages).
    DEFINE TABLE IF NOT EXISTS log SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS session_id ON log TYPE string;
    DEFINE FIELD IF NOT EXISTS query ON log TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS reasoning ON log TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS answer ON log TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS messages ON log TYPE option<array> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS score ON log TYPE option<float>;
    DEFINE FIELD IF NOT EXISTS created_at ON log TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON log TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS log_session ON log FIELDS session_id;
    DEFINE INDEX IF NOT EXISTS log_score ON log FIELDS score;

    -- ==========================================================================
    -- JOB TABLE (durable mirror of the in-memory job store)
    -- ==========================================================================
    -- Progress, result, and params shapes vary by job type, so those fields
    -- stay flexible objects.
    DEFINE TABLE IF NOT EXISTS job SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS type ON job TYPE string;
    DEFINE FIELD IF NOT EXISTS status ON job TYPE string;
    DEFINE FIELD IF NOT EXISTS progress ON job TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS result ON job TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS params ON job TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS error ON job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created_at ON job TYPE datetime;
    DEFINE FIELD IF NOT EXISTS updated_at ON job TYPE datetime;

    DEFINE INDEX IF NOT EXISTS job_status ON job FIELDS status;
    DEFINE INDEX IF NOT EXISTS job_type ON job FIELDS type;
`
