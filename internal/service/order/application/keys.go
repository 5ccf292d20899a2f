package application

// 分布式锁的业务键
func OrderLockKey(orderID string) string       { return "order:" + orderID }
func ClaimLockKey(claimID string) string       { return "claim:" + claimID }
func ShipmentLockKey(shipmentID string) string { return "shipment:" + shipmentID }
func CheckoutLockKey(key string) string        { return "checkout:" + key }
