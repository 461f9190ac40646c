// Package modbus provides the shared Modbus TCP transport used by the GRD
// and relay monitor loops.
//
// Every field device sits behind one Modbus TCP gateway and is addressed by
// its unit id. Client holds a single session to the gateway, serialises
// requests on it and rebuilds it after link failures. Callers only see
// ReadHoldingRegisters, which wraps every failure in ErrTransport.
//
// Usage:
//
//	client, err := modbus.New(modbus.Config{Host: "10.0.0.5", Port: 502, Timeout: 10 * time.Second})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	regs, err := client.ReadHoldingRegisters(ctx, 5, 0, 1)
//	if errors.Is(err, modbus.ErrTransport) {
//	    // device 5 is unreachable this tick
//	}
package modbus
