// Package protein is an RPC layer transported over an AMQP message broker.
//
// It gives callers a synchronous request/response abstraction (Call) and a
// fire-and-forget abstraction (Push) on top of asynchronous queue delivery,
// plus a Server that routes inbound requests to registered services and
// replies on the caller's reply queue.
//
// Typical client usage:
//
//	client, err := protein.NewClient("amqp://localhost", "rpc.users",
//		protein.WithTimeout(5*time.Second))
//	if err != nil {
//		...
//	}
//	defer client.Close()
//
//	var resp CreateUserResponse
//	err = client.Call(ctx, "create_user", &CreateUserRequest{Name: "ada"}, &resp)
//
// Typical server usage:
//
//	server, err := protein.NewServer("amqp://localhost", "rpc.users")
//	server.RegisterFunc("create_user", func(ctx context.Context, req interface{}) (interface{}, error) {
//		...
//	})
//	err = server.Start(ctx)
package protein
