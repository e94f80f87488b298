package state

var (
	// life cycle of a swap order; amounts are decimal strings because
	// token amounts overflow BIGINT
	orderTable = `CREATE TABLE IF NOT EXISTS orders (
		id VARCHAR(64) PRIMARY KEY NOT NULL,
		srcChain VARCHAR(32) NOT NULL,
		dstChain VARCHAR(32) NOT NULL,
		srcAsset VARCHAR(64) NOT NULL,
		srcAmount TEXT NOT NULL,
		dstAsset VARCHAR(64) NOT NULL,
		dstAmount TEXT NOT NULL,
		hashlock CHAR(64) NOT NULL,
		timelock BIGINT NOT NULL,
		sender VARCHAR(128) NOT NULL,
		beneficiary VARCHAR(128) NOT NULL,
		srcRefundAddr VARCHAR(128),
		dstRefundAddr VARCHAR(128),
		safetyDeposit TEXT,
		allowPartialFills INTEGER NOT NULL,
		fragmentCount INTEGER NOT NULL,
		status VARCHAR(20) NOT NULL,
		filledAmount TEXT NOT NULL,
		remainingAmount TEXT NOT NULL,
		srcOnchainId VARCHAR(128),
		dstOnchainId VARCHAR(128),
		srcLockTxHash VARCHAR(128),
		dstLockTxHash VARCHAR(128),
		auction TEXT,
		createdAt BIGINT NOT NULL,
		CONSTRAINT chk_status CHECK (status IN (
			'CREATED', 'ETHEREUM_PENDING', 'STELLAR_PENDING', 'BOTH_ACTIVE',
			'PARTIALLY_FILLED', 'COMPLETED', 'REFUNDED', 'FAILED', 'EXPIRED')),
		CONSTRAINT chk_fragmentCount CHECK (fragmentCount >= 1)
	);`

	// merkle leaves of an order; immutable except status/resolver/fillTxHash
	fragmentTable = `CREATE TABLE IF NOT EXISTS fragments (
		orderId VARCHAR(64) NOT NULL,
		idx INTEGER NOT NULL,
		secret CHAR(64) NOT NULL,
		secretHash CHAR(64) NOT NULL,
		fillAmount TEXT NOT NULL,
		cumulative TEXT NOT NULL,
		proof TEXT,
		status VARCHAR(10) NOT NULL,
		revealed INTEGER NOT NULL DEFAULT 0,
		resolver VARCHAR(128),
		fillTxHash VARCHAR(128),
		PRIMARY KEY (orderId, idx),
		CONSTRAINT chk_status CHECK (status IN ('pending', 'claiming', 'filled', 'expired')),
		FOREIGN KEY (orderId) REFERENCES orders(id)
	);`
)
